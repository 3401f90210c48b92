package service

import (
	"context"
	"encoding/json"
	"testing"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/pkg/es"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type queryFixture struct {
	svc        *QueryService
	chatSvc    *ChatService
	threadSvc  *ThreadService
	chatRepo   *fakeChatRepo
	threadRepo *fakeThreadRepo
	userRepo   *fakeUserRepo
	index      *fakeIndex
	alice      *model.User
	bob        *model.User
}

func newQueryFixture(t *testing.T) *queryFixture {
	t.Helper()
	f := &queryFixture{
		chatRepo:   newFakeChatRepo(),
		threadRepo: newFakeThreadRepo(),
		userRepo:   newFakeUserRepo(),
		index:      newFakeIndex(),
	}
	f.alice = f.userRepo.seed(&model.User{Username: "alice", Avatar: "http://img/a.png", Motto: "求知", Level: 1})
	f.bob = f.userRepo.seed(&model.User{Username: "bob", Avatar: "http://img/b.png", Level: 1})
	f.svc = NewQueryService(f.chatRepo, f.threadRepo, f.userRepo, f.index)
	f.chatSvc = NewChatService(f.chatRepo, f.userRepo, f.index, &fakeQueue{})
	f.threadSvc = NewThreadService(f.threadRepo, f.userRepo, f.index, &fakeQueue{})
	return f
}

func (f *queryFixture) saveChat(t *testing.T) *model.ChatDTO {
	t.Helper()
	dto, err := f.chatSvc.SaveChat(context.Background(), &model.SaveChatInput{
		QuestionUsername: "alice",
		AnswerUsername:   "bob",
		Content:          "Raft 的选主超时怎么调？",
		Community:        "distributed-systems",
		Tags:             []string{"raft"},
	})
	require.NoError(t, err)
	return dto
}

func TestGetChatFromIndex(t *testing.T) {
	f := newQueryFixture(t)
	dto := f.saveChat(t)

	got, err := f.svc.GetChat(context.Background(), dto.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.ID, got.ID)
	assert.Equal(t, dto.Content, got.Content)
	assert.Equal(t, dto.QuestionUsername, got.QuestionUsername)
}

func TestGetChatFallsBackToPrimary(t *testing.T) {
	f := newQueryFixture(t)
	dto := f.saveChat(t)

	// 索引文档缺失时回退主存储
	require.NoError(t, f.index.DeleteDocument(context.Background(), es.IndexChats, dto.ID))
	got, err := f.svc.GetChat(context.Background(), dto.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.ID, got.ID)
	assert.Equal(t, dto.Content, got.Content)

	// 索引整体不可用时同样回退
	f.index.failing = true
	got, err = f.svc.GetChat(context.Background(), dto.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.ID, got.ID)
}

func TestGetChatFallbackEquivalence(t *testing.T) {
	f := newQueryFixture(t)
	dto := f.saveChat(t)
	ctx := context.Background()

	fromIndex, err := f.svc.GetChat(ctx, dto.ID)
	require.NoError(t, err)
	f.index.failing = true
	fromPrimary, err := f.svc.GetChat(ctx, dto.ID)
	require.NoError(t, err)

	// 两条路径产出字段等价的投影
	a, err := json.Marshal(fromIndex)
	require.NoError(t, err)
	b, err := json.Marshal(fromPrimary)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestGetChatNotFoundOnBothMisses(t *testing.T) {
	f := newQueryFixture(t)
	_, err := f.svc.GetChat(context.Background(), "65a000000000000000000001")
	assert.True(t, errs.IsNotFound(err))
}

func TestGetChatWithDetailsExpandsParticipants(t *testing.T) {
	f := newQueryFixture(t)
	dto := f.saveChat(t)

	detail, err := f.svc.GetChatWithDetails(context.Background(), dto.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", detail.Questioner.Username)
	assert.Equal(t, f.alice.Avatar, detail.Questioner.Avatar)
	assert.Equal(t, "bob", detail.Answerer.Username)
}

func TestListChatsFallsBackToPrimary(t *testing.T) {
	f := newQueryFixture(t)
	dto := f.saveChat(t)
	ctx := context.Background()

	// fakeIndex 不实现查询匹配（零命中），走主存储回退
	summaries, err := f.svc.ListChats(ctx, repository.ChatFilter{Username: "alice"})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, dto.ID, summaries[0].ID)
	assert.Equal(t, model.RoleQuestioner, summaries[0].Role)
	assert.Equal(t, "bob", summaries[0].PartnerUsername)

	summaries, err = f.svc.ListChats(ctx, repository.ChatFilter{Username: "bob"})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, model.RoleAnswerer, summaries[0].Role)
	assert.Equal(t, "alice", summaries[0].PartnerUsername)

	summaries, err = f.svc.ListChats(ctx, repository.ChatFilter{Username: "alice", Status: model.StatusCompleted})
	require.NoError(t, err)
	assert.Empty(t, summaries)
}

func TestListChatsFromIndexHits(t *testing.T) {
	f := newQueryFixture(t)
	dto := f.saveChat(t)

	src, err := f.index.GetDocument(context.Background(), es.IndexChats, dto.ID)
	require.NoError(t, err)
	f.index.searchHits = map[string][]es.Hit{
		es.IndexChats: {{ID: dto.ID, Source: src}},
	}

	summaries, err := f.svc.ListChats(context.Background(), repository.ChatFilter{Username: "alice"})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, dto.ID, summaries[0].ID)
	assert.Equal(t, model.RoleQuestioner, summaries[0].Role)
}

func TestSearchThreadsSubstringFallback(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()

	// 索引不可用时发帖仍成功
	f.index.failing = true
	dto, err := f.threadSvc.SaveThread(ctx, &model.SaveThreadInput{
		Content:   "分布式事务的两阶段提交实践",
		Username:  "alice",
		Community: "distributed-systems",
		Tags:      []string{"2pc"},
	})
	require.NoError(t, err)

	// 搜索回退为主存储子串匹配，新帖立即可见
	results, err := f.svc.SearchThreads(ctx, "两阶段")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, dto.ID, results[0].ID)

	results, err = f.svc.SearchThreads(ctx, "2pc")
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = f.svc.SearchThreads(ctx, "没有这个词")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestThreadsByTermFallback(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()
	dto, err := f.threadSvc.SaveThread(ctx, &model.SaveThreadInput{
		Content: "社区公告", Username: "alice", Community: "campus",
	})
	require.NoError(t, err)

	byCommunity, err := f.svc.ThreadsByCommunity(ctx, "campus")
	require.NoError(t, err)
	require.Len(t, byCommunity, 1)
	assert.Equal(t, dto.ID, byCommunity[0].ID)

	byUser, err := f.svc.ThreadsByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, byUser, 1)

	empty, err := f.svc.ThreadsByCommunity(ctx, "elsewhere")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRandomThreadsFallback(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		_, err := f.threadSvc.SaveThread(ctx, &model.SaveThreadInput{
			Content: "帖子", Username: "alice", Community: "campus",
		})
		require.NoError(t, err)
	}

	results, err := f.svc.RandomThreads(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchUsersFallback(t *testing.T) {
	f := newQueryFixture(t)
	results, err := f.svc.SearchUsers(context.Background(), "求知")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0].Username)

	_, err = f.svc.SearchUsers(context.Background(), "")
	assert.True(t, errs.IsValidation(err))
}

func TestChatStats(t *testing.T) {
	f := newQueryFixture(t)
	ctx := context.Background()
	dto := f.saveChat(t)
	f.saveChat(t)
	_, err := f.chatSvc.UpdateStatus(ctx, dto.ID, model.StatusCompleted)
	require.NoError(t, err)

	stats, err := f.svc.ChatStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalChats)
	assert.Equal(t, int64(2), stats.AsQuestioner)
	assert.Equal(t, int64(0), stats.AsAnswerer)
	assert.Equal(t, int64(1), stats.Ongoing)
	assert.Equal(t, int64(1), stats.Completed)
}
