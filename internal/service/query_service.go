package service

import (
	"context"
	"encoding/json"
	"errors"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/log"
)

// QueryService 是读路径的查询路由：优先查搜索索引，
// 索引出错或没有命中时回退主存储，两条路径产出字段等价的投影。
type QueryService struct {
	chatRepo   repository.ChatRepository
	threadRepo repository.ThreadRepository
	userRepo   repository.UserRepository
	store      es.Store
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(chatRepo repository.ChatRepository, threadRepo repository.ThreadRepository, userRepo repository.UserRepository, store es.Store) *QueryService {
	return &QueryService{
		chatRepo:   chatRepo,
		threadRepo: threadRepo,
		userRepo:   userRepo,
		store:      store,
	}
}

// GetChat 按 ID 读取对话：索引命中直接返回，
// 未命中或索引出错则回退主存储；两边都没有才算不存在。
func (s *QueryService) GetChat(ctx context.Context, id string) (*model.ChatDTO, error) {
	src, err := s.store.GetDocument(ctx, es.IndexChats, id)
	if err == nil {
		var dto model.ChatDTO
		uerr := json.Unmarshal(src, &dto)
		if uerr == nil {
			dto.ID = id
			return &dto, nil
		}
		log.Errorf("解析对话索引文档失败，回退主存储: id=%s, err=%v", id, uerr)
	} else if !errors.Is(err, es.ErrNotFound) {
		log.Errorf("读取对话索引失败，回退主存储: id=%s, err=%v", id, err)
	}

	chat, err := s.chatRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.NewChatDTO(chat), nil
}

// GetChatWithDetails 读取对话详情并展开双方参与者信息。
// 参与者信息要求最新，这条路径只走主存储。
func (s *QueryService) GetChatWithDetails(ctx context.Context, id string) (*model.ChatDetailDTO, error) {
	chat, err := s.chatRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &model.ChatDetailDTO{ChatDTO: *model.NewChatDTO(chat)}
	detail.Questioner = s.participant(ctx, chat.QuestionUserID.Hex(), chat.QuestionUsername)
	detail.Answerer = s.participant(ctx, chat.AnswerUserID.Hex(), chat.AnswerUsername)
	return detail, nil
}

func (s *QueryService) participant(ctx context.Context, userID, username string) model.ParticipantDTO {
	p := model.ParticipantDTO{UserID: userID, Username: username}
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		log.Warnf("展开参与者信息失败: user=%s, err=%v", username, err)
		return p
	}
	p.Avatar = user.Avatar
	p.Motto = user.Motto
	return p
}

// ListChats 查询某个用户参与的对话列表，支持按状态/角色/社区过滤。
// 列表行不携带消息数组，按更新时间倒序。
func (s *QueryService) ListChats(ctx context.Context, f repository.ChatFilter) ([]model.ChatSummaryDTO, error) {
	if f.Username == "" {
		return nil, errs.Validation("用户名不能为空")
	}

	body := map[string]interface{}{
		"query":   chatSearchQuery(f),
		"size":    100,
		"sort":    []map[string]interface{}{{"updatedAt": map[string]interface{}{"order": "desc"}}},
		"_source": map[string]interface{}{"excludes": []string{"messages"}},
	}
	hits, err := s.store.Search(ctx, es.IndexChats, body)
	if err != nil {
		log.Errorf("对话列表索引查询失败，回退主存储: user=%s, err=%v", f.Username, err)
	} else if len(hits) > 0 {
		return chatSummariesFromHits(hits, f.Username), nil
	}

	chats, err := s.chatRepo.FindByFilter(ctx, f)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.ChatSummaryDTO, 0, len(chats))
	for i := range chats {
		summaries = append(summaries, chatSummary(model.NewChatDTO(&chats[i]), f.Username))
	}
	return summaries, nil
}

// ChatsByCommunity 查询某个社区下的对话。
func (s *QueryService) ChatsByCommunity(ctx context.Context, community string) ([]model.ChatDTO, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]interface{}{"community": community}},
		"size":  1000,
	}
	hits, err := s.store.Search(ctx, es.IndexChats, body)
	if err != nil {
		log.Errorf("社区对话索引查询失败，回退主存储: community=%s, err=%v", community, err)
	} else if len(hits) > 0 {
		return chatsFromHits(hits), nil
	}

	chats, err := s.chatRepo.FindByFilter(ctx, repository.ChatFilter{Community: community})
	if err != nil {
		return nil, err
	}
	dtos := make([]model.ChatDTO, 0, len(chats))
	for i := range chats {
		dtos = append(dtos, *model.NewChatDTO(&chats[i]))
	}
	return dtos, nil
}

// GetThread 按 ID 读取帖子，索引未命中或出错时回退主存储。
func (s *QueryService) GetThread(ctx context.Context, id string) (*model.ThreadDTO, error) {
	src, err := s.store.GetDocument(ctx, es.IndexThreads, id)
	if err == nil {
		var dto model.ThreadDTO
		uerr := json.Unmarshal(src, &dto)
		if uerr == nil {
			dto.ID = id
			return &dto, nil
		}
		log.Errorf("解析帖子索引文档失败，回退主存储: id=%s, err=%v", id, uerr)
	} else if !errors.Is(err, es.ErrNotFound) {
		log.Errorf("读取帖子索引失败，回退主存储: id=%s, err=%v", id, err)
	}

	thread, err := s.threadRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.NewThreadDTO(thread), nil
}

// SearchThreads 全文检索帖子：索引上做 multi_match，
// 回退路径用主存储的子串匹配，放弃相关性排序。
func (s *QueryService) SearchThreads(ctx context.Context, q string) ([]model.ThreadDTO, error) {
	if q == "" {
		return nil, errs.Validation("搜索关键词不能为空")
	}
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"content", "tags"},
			},
		},
		"size": 100,
	}
	hits, err := s.store.Search(ctx, es.IndexThreads, body)
	if err != nil {
		log.Errorf("帖子搜索索引查询失败，回退主存储: q=%s, err=%v", q, err)
	} else if len(hits) > 0 {
		return threadsFromHits(hits), nil
	}

	threads, err := s.threadRepo.SearchKeyword(ctx, q)
	if err != nil {
		return nil, err
	}
	return threadDTOs(threads), nil
}

// ThreadsByCommunity 查询某个社区下的帖子。
func (s *QueryService) ThreadsByCommunity(ctx context.Context, community string) ([]model.ThreadDTO, error) {
	return s.threadsByTerm(ctx, "community", community, func() ([]model.Thread, error) {
		return s.threadRepo.FindByCommunity(ctx, community)
	})
}

// ThreadsByUsername 查询某个用户发布的帖子。
func (s *QueryService) ThreadsByUsername(ctx context.Context, username string) ([]model.ThreadDTO, error) {
	return s.threadsByTerm(ctx, "username", username, func() ([]model.Thread, error) {
		return s.threadRepo.FindByUsername(ctx, username)
	})
}

func (s *QueryService) threadsByTerm(ctx context.Context, field, value string, fallback func() ([]model.Thread, error)) ([]model.ThreadDTO, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{"term": map[string]interface{}{field: value}},
		"size":  1000,
	}
	hits, err := s.store.Search(ctx, es.IndexThreads, body)
	if err != nil {
		log.Errorf("帖子索引查询失败，回退主存储: %s=%s, err=%v", field, value, err)
	} else if len(hits) > 0 {
		return threadsFromHits(hits), nil
	}

	threads, err := fallback()
	if err != nil {
		return nil, err
	}
	return threadDTOs(threads), nil
}

// RandomThreads 随机抽取 n 条帖子：索引上用 function_score 的 random_score，
// 回退路径用主存储原生的 $sample。
func (s *QueryService) RandomThreads(ctx context.Context, n int) ([]model.ThreadDTO, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"function_score": map[string]interface{}{
				"query":        map[string]interface{}{"match_all": map[string]interface{}{}},
				"random_score": map[string]interface{}{},
			},
		},
		"size": n,
	}
	hits, err := s.store.Search(ctx, es.IndexThreads, body)
	if err != nil {
		log.Errorf("随机帖子索引查询失败，回退主存储: err=%v", err)
	} else if len(hits) > 0 {
		return threadsFromHits(hits), nil
	}

	threads, err := s.threadRepo.Sample(ctx, n)
	if err != nil {
		return nil, err
	}
	return threadDTOs(threads), nil
}

// SearchUsers 检索用户：索引上做 multi_match，回退路径用子串匹配。
func (s *QueryService) SearchUsers(ctx context.Context, q string) ([]model.UserInfoDTO, error) {
	if q == "" {
		return nil, errs.Validation("搜索关键词不能为空")
	}
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q,
				"fields": []string{"username", "motto", "taps"},
			},
		},
		"size": 100,
	}
	hits, err := s.store.Search(ctx, es.IndexUsers, body)
	if err != nil {
		log.Errorf("用户搜索索引查询失败，回退主存储: q=%s, err=%v", q, err)
	} else if len(hits) > 0 {
		infos := make([]model.UserInfoDTO, 0, len(hits))
		for _, h := range hits {
			var info model.UserInfoDTO
			if err := json.Unmarshal(h.Source, &info); err != nil {
				log.Errorf("解析用户索引文档失败: id=%s, err=%v", h.ID, err)
				continue
			}
			infos = append(infos, info)
		}
		return infos, nil
	}

	users, err := s.userRepo.SearchKeyword(ctx, q)
	if err != nil {
		return nil, err
	}
	infos := make([]model.UserInfoDTO, 0, len(users))
	for i := range users {
		infos = append(infos, *model.NewUserInfo(&users[i]))
	}
	return infos, nil
}

// ChatStats 统计某个用户的对话数量，统计口径以主存储为准。
func (s *QueryService) ChatStats(ctx context.Context, username string) (*model.ChatStats, error) {
	if username == "" {
		return nil, errs.Validation("用户名不能为空")
	}
	stats := &model.ChatStats{}
	counts := []struct {
		dst    *int64
		filter repository.ChatFilter
	}{
		{&stats.TotalChats, repository.ChatFilter{Username: username}},
		{&stats.AsQuestioner, repository.ChatFilter{Username: username, Role: model.RoleQuestioner}},
		{&stats.AsAnswerer, repository.ChatFilter{Username: username, Role: model.RoleAnswerer}},
		{&stats.Ongoing, repository.ChatFilter{Username: username, Status: model.StatusOngoing}},
		{&stats.Completed, repository.ChatFilter{Username: username, Status: model.StatusCompleted}},
	}
	for _, c := range counts {
		n, err := s.chatRepo.CountByFilter(ctx, c.filter)
		if err != nil {
			return nil, err
		}
		*c.dst = n
	}
	return stats, nil
}

// chatSearchQuery 把对话列表过滤条件翻译为索引查询，
// 与主存储的 buildChatQuery 保持语义一致。
func chatSearchQuery(f repository.ChatFilter) map[string]interface{} {
	var filters []map[string]interface{}
	if f.Status != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"status": f.Status}})
	}
	if f.Community != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"community": f.Community}})
	}
	boolQuery := map[string]interface{}{}
	switch f.Role {
	case model.RoleQuestioner:
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"questionUsername": f.Username}})
	case model.RoleAnswerer:
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"answerUsername": f.Username}})
	default:
		boolQuery["should"] = []map[string]interface{}{
			{"term": map[string]interface{}{"questionUsername": f.Username}},
			{"term": map[string]interface{}{"answerUsername": f.Username}},
		}
		boolQuery["minimum_should_match"] = 1
	}
	if len(filters) > 0 {
		boolQuery["filter"] = filters
	}
	return map[string]interface{}{"bool": boolQuery}
}

func chatsFromHits(hits []es.Hit) []model.ChatDTO {
	dtos := make([]model.ChatDTO, 0, len(hits))
	for _, h := range hits {
		var dto model.ChatDTO
		if err := json.Unmarshal(h.Source, &dto); err != nil {
			log.Errorf("解析对话索引文档失败: id=%s, err=%v", h.ID, err)
			continue
		}
		dto.ID = h.ID
		dtos = append(dtos, dto)
	}
	return dtos
}

func chatSummariesFromHits(hits []es.Hit, username string) []model.ChatSummaryDTO {
	summaries := make([]model.ChatSummaryDTO, 0, len(hits))
	for _, dto := range chatsFromHits(hits) {
		summaries = append(summaries, chatSummary(&dto, username))
	}
	return summaries
}

// chatSummary 站在某个用户的视角生成列表行：标注其角色与对端用户名。
// 列表不携带消息数组，消息数固定为 0。
func chatSummary(dto *model.ChatDTO, username string) model.ChatSummaryDTO {
	role := model.RoleQuestioner
	partner := dto.AnswerUsername
	if dto.AnswerUsername == username {
		role = model.RoleAnswerer
		partner = dto.QuestionUsername
	}
	return model.ChatSummaryDTO{
		ID:              dto.ID,
		Content:         dto.Content,
		Community:       dto.Community,
		Tags:            dto.Tags,
		Status:          dto.Status,
		CreatedAt:       dto.CreatedAt,
		UpdatedAt:       dto.UpdatedAt,
		Role:            role,
		PartnerUsername: partner,
		MessageCount:    0,
	}
}

func threadsFromHits(hits []es.Hit) []model.ThreadDTO {
	dtos := make([]model.ThreadDTO, 0, len(hits))
	for _, h := range hits {
		var dto model.ThreadDTO
		if err := json.Unmarshal(h.Source, &dto); err != nil {
			log.Errorf("解析帖子索引文档失败: id=%s, err=%v", h.ID, err)
			continue
		}
		dto.ID = h.ID
		dtos = append(dtos, dto)
	}
	return dtos
}

func threadDTOs(threads []model.Thread) []model.ThreadDTO {
	dtos := make([]model.ThreadDTO, 0, len(threads))
	for i := range threads {
		dtos = append(dtos, *model.NewThreadDTO(&threads[i]))
	}
	return dtos
}
