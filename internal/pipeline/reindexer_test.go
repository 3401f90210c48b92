package pipeline

import (
	"context"
	"encoding/json"
	"testing"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type stubChatRepo struct {
	repository.ChatRepository
	chats map[string]*model.Chat
}

func (r *stubChatRepo) FindByID(_ context.Context, id string) (*model.Chat, error) {
	chat, ok := r.chats[id]
	if !ok {
		return nil, errs.NotFound("对话不存在")
	}
	return chat, nil
}

type stubStore struct {
	es.Store
	indexed map[string]interface{}
	deleted []string
}

func (s *stubStore) IndexDocument(_ context.Context, index, id string, doc interface{}) error {
	s.indexed[index+"/"+id] = doc
	return nil
}

func (s *stubStore) DeleteDocument(_ context.Context, index, id string) error {
	s.deleted = append(s.deleted, index+"/"+id)
	return nil
}

func TestProcessRebuildsExistingRecord(t *testing.T) {
	chat := &model.Chat{
		ID:               primitive.NewObjectID(),
		QuestionUsername: "alice",
		AnswerUsername:   "bob",
		Status:           model.StatusOngoing,
	}
	repo := &stubChatRepo{chats: map[string]*model.Chat{chat.HexID(): chat}}
	store := &stubStore{indexed: make(map[string]interface{})}
	r := NewReindexer(repo, nil, nil, store)

	err := r.Process(context.Background(), tasks.ReindexTask{Index: es.IndexChats, DocID: chat.HexID()})
	require.NoError(t, err)

	doc, ok := store.indexed[es.IndexChats+"/"+chat.HexID()]
	require.True(t, ok)
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"questionUsername":"alice"`)
	assert.Empty(t, store.deleted)
}

func TestProcessDeletesIndexDocForMissingRecord(t *testing.T) {
	repo := &stubChatRepo{chats: map[string]*model.Chat{}}
	store := &stubStore{indexed: make(map[string]interface{})}
	r := NewReindexer(repo, nil, nil, store)

	id := primitive.NewObjectID().Hex()
	err := r.Process(context.Background(), tasks.ReindexTask{Index: es.IndexChats, DocID: id})
	require.NoError(t, err)
	assert.Equal(t, []string{es.IndexChats + "/" + id}, store.deleted)
	assert.Empty(t, store.indexed)
}

func TestProcessRejectsUnknownIndex(t *testing.T) {
	store := &stubStore{indexed: make(map[string]interface{})}
	r := NewReindexer(nil, nil, nil, store)

	err := r.Process(context.Background(), tasks.ReindexTask{Index: "nope", DocID: "x"})
	assert.Error(t, err)
}
