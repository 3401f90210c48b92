package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/tasks"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeIndex 是 es.Store 的内存实现。failing 为 true 时所有操作失败，
// failPartial 为 true 时只有部分更新失败，用于触发整体重建路径。
type fakeIndex struct {
	mu          sync.Mutex
	docs        map[string]map[string]interface{}
	failing     bool
	failPartial bool
	searchHits  map[string][]es.Hit
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]map[string]interface{})}
}

func (f *fakeIndex) key(index, id string) string { return index + "/" + id }

func (f *fakeIndex) IndexDocument(_ context.Context, index, id string, doc interface{}) error {
	if f.failing {
		return errTestIndexDown
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	f.mu.Lock()
	f.docs[f.key(index, id)] = fields
	f.mu.Unlock()
	return nil
}

func (f *fakeIndex) GetDocument(_ context.Context, index, id string) (json.RawMessage, error) {
	if f.failing {
		return nil, errTestIndexDown
	}
	f.mu.Lock()
	doc, ok := f.docs[f.key(index, id)]
	f.mu.Unlock()
	if !ok {
		return nil, es.ErrNotFound
	}
	return json.Marshal(doc)
}

func (f *fakeIndex) UpdateDocument(_ context.Context, index, id string, fields map[string]interface{}) error {
	if f.failing || f.failPartial {
		return errTestIndexDown
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[f.key(index, id)]
	if !ok {
		return es.ErrNotFound
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	var normalized map[string]interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return err
	}
	for k, v := range normalized {
		doc[k] = v
	}
	return nil
}

func (f *fakeIndex) DeleteDocument(_ context.Context, index, id string) error {
	if f.failing {
		return errTestIndexDown
	}
	f.mu.Lock()
	delete(f.docs, f.key(index, id))
	f.mu.Unlock()
	return nil
}

func (f *fakeIndex) Search(_ context.Context, index string, _ map[string]interface{}) ([]es.Hit, error) {
	if f.failing {
		return nil, errTestIndexDown
	}
	return f.searchHits[index], nil
}

var errTestIndexDown = errs.Index("索引不可用", nil)

// fakeQueue 记录投递过的索引对账任务。
type fakeQueue struct {
	mu    sync.Mutex
	tasks []tasks.ReindexTask
}

func (q *fakeQueue) EnqueueReindex(task tasks.ReindexTask) error {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	return nil
}

func (q *fakeQueue) keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.Key())
	}
	return out
}

// fakeUserRepo 是 repository.UserRepository 的内存实现。
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (r *fakeUserRepo) seed(user *model.User) *model.User {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	r.mu.Lock()
	r.users[user.ID.Hex()] = user
	r.mu.Unlock()
	return user
}

func (r *fakeUserRepo) Insert(_ context.Context, user *model.User) (*model.User, error) {
	user.ID = primitive.NewObjectID()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.mu.Lock()
	r.users[user.ID.Hex()] = user
	r.mu.Unlock()
	return user, nil
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, errs.NotFound("用户不存在")
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, errs.NotFound("用户不存在: " + username)
}

func (r *fakeUserRepo) UpdateFields(_ context.Context, id string, fields map[string]interface{}) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, errs.NotFound("用户不存在")
	}
	for k, v := range fields {
		switch k {
		case "username":
			user.Username = v.(string)
		case "motto":
			user.Motto = v.(string)
		case "avatar":
			user.Avatar = v.(string)
		case "taps":
			user.Taps = v.([]string)
		case "level":
			user.Level = v.(int)
		}
	}
	user.UpdatedAt = time.Now()
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) IncrementCounters(_ context.Context, id string, counters map[string]int) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, errs.NotFound("用户不存在")
	}
	for k, v := range counters {
		switch k {
		case "questionCount":
			user.QuestionCount += v
		case "answerCount":
			user.AnswerCount += v
		case "highQualityAnswerCount":
			user.HighQualityAnswerCount += v
		}
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) AddChatRef(_ context.Context, userID string, chatID primitive.ObjectID, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return errs.NotFound("用户不存在")
	}
	if role == model.RoleAnswerer {
		user.AnswerChats = append(user.AnswerChats, chatID)
	} else {
		user.QuestionChats = append(user.QuestionChats, chatID)
	}
	return nil
}

func (r *fakeUserRepo) RemoveChatRef(_ context.Context, userID string, chatID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return errs.NotFound("用户不存在")
	}
	user.QuestionChats = removeID(user.QuestionChats, chatID)
	user.AnswerChats = removeID(user.AnswerChats, chatID)
	return nil
}

func (r *fakeUserRepo) AddPost(_ context.Context, userID string, threadID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return errs.NotFound("用户不存在")
	}
	user.Posts = append(user.Posts, threadID)
	return nil
}

func (r *fakeUserRepo) RemovePost(_ context.Context, userID string, threadID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return errs.NotFound("用户不存在")
	}
	user.Posts = removeID(user.Posts, threadID)
	return nil
}

func (r *fakeUserRepo) DeleteByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, user := range r.users {
		if user.Username == username {
			delete(r.users, id)
			return user, nil
		}
	}
	return nil, errs.NotFound("用户不存在: " + username)
}

func (r *fakeUserRepo) SearchKeyword(_ context.Context, q string) ([]model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.User
	for _, user := range r.users {
		if containsFold(user.Username, q) || containsFold(user.Motto, q) || containsAnyFold(user.Taps, q) {
			out = append(out, *user)
		}
	}
	return out, nil
}

func removeID(ids []primitive.ObjectID, target primitive.ObjectID) []primitive.ObjectID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// fakeChatRepo 是 repository.ChatRepository 的内存实现。
type fakeChatRepo struct {
	mu    sync.Mutex
	chats map[string]*model.Chat
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{chats: make(map[string]*model.Chat)}
}

func (r *fakeChatRepo) Insert(_ context.Context, chat *model.Chat) (*model.Chat, error) {
	chat.ID = primitive.NewObjectID()
	now := time.Now()
	chat.CreatedAt = now
	chat.UpdatedAt = now
	r.mu.Lock()
	r.chats[chat.ID.Hex()] = chat
	r.mu.Unlock()
	return chat, nil
}

func (r *fakeChatRepo) FindByID(_ context.Context, id string) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok {
		return nil, errs.NotFound("对话不存在")
	}
	clone := *chat
	clone.Messages = append([]model.ChatMessage(nil), chat.Messages...)
	return &clone, nil
}

func (r *fakeChatRepo) UpdateFields(_ context.Context, id string, fields map[string]interface{}) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok {
		return nil, errs.NotFound("对话不存在")
	}
	for k, v := range fields {
		switch k {
		case "status":
			chat.Status = v.(string)
		case "content":
			chat.Content = v.(string)
		case "community":
			chat.Community = v.(string)
		case "tags":
			chat.Tags = v.([]string)
		case "messages":
			chat.Messages = v.([]model.ChatMessage)
		}
	}
	chat.UpdatedAt = time.Now()
	clone := *chat
	return &clone, nil
}

func (r *fakeChatRepo) PushMessage(_ context.Context, id string, msg model.ChatMessage) (*model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat, ok := r.chats[id]
	if !ok {
		return nil, errs.NotFound("对话不存在")
	}
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = time.Now()
	clone := *chat
	clone.Messages = append([]model.ChatMessage(nil), chat.Messages...)
	return &clone, nil
}

func (r *fakeChatRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chats[id]; !ok {
		return errs.NotFound("对话不存在")
	}
	delete(r.chats, id)
	return nil
}

func (r *fakeChatRepo) FindByFilter(_ context.Context, f repository.ChatFilter) ([]model.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Chat
	for _, chat := range r.chats {
		if !matchChat(chat, f) {
			continue
		}
		clone := *chat
		clone.Messages = nil
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *fakeChatRepo) CountByFilter(_ context.Context, f repository.ChatFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, chat := range r.chats {
		if matchChat(chat, f) {
			n++
		}
	}
	return n, nil
}

func matchChat(chat *model.Chat, f repository.ChatFilter) bool {
	if f.Status != "" && chat.Status != f.Status {
		return false
	}
	if f.Community != "" && chat.Community != f.Community {
		return false
	}
	switch f.Role {
	case model.RoleQuestioner:
		return chat.QuestionUsername == f.Username
	case model.RoleAnswerer:
		return chat.AnswerUsername == f.Username
	default:
		if f.Username == "" {
			return true
		}
		return chat.QuestionUsername == f.Username || chat.AnswerUsername == f.Username
	}
}

// fakeThreadRepo 是 repository.ThreadRepository 的内存实现。
type fakeThreadRepo struct {
	mu      sync.Mutex
	threads map[string]*model.Thread
}

func newFakeThreadRepo() *fakeThreadRepo {
	return &fakeThreadRepo{threads: make(map[string]*model.Thread)}
}

func (r *fakeThreadRepo) Insert(_ context.Context, thread *model.Thread) (*model.Thread, error) {
	thread.ID = primitive.NewObjectID()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now()
	}
	r.mu.Lock()
	r.threads[thread.ID.Hex()] = thread
	r.mu.Unlock()
	return thread, nil
}

func (r *fakeThreadRepo) FindByID(_ context.Context, id string) (*model.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	thread, ok := r.threads[id]
	if !ok {
		return nil, errs.NotFound("帖子不存在")
	}
	clone := *thread
	return &clone, nil
}

func (r *fakeThreadRepo) UpdateFields(_ context.Context, id string, fields map[string]interface{}) (*model.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	thread, ok := r.threads[id]
	if !ok {
		return nil, errs.NotFound("帖子不存在")
	}
	for k, v := range fields {
		switch k {
		case "content":
			thread.Content = v.(string)
		case "community":
			thread.Community = v.(string)
		case "location":
			thread.Location = v.(string)
		case "tags":
			thread.Tags = v.([]string)
		}
	}
	clone := *thread
	return &clone, nil
}

func (r *fakeThreadRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.threads[id]; !ok {
		return errs.NotFound("帖子不存在")
	}
	delete(r.threads, id)
	return nil
}

func (r *fakeThreadRepo) FindByCommunity(_ context.Context, community string) ([]model.Thread, error) {
	return r.filter(func(t *model.Thread) bool { return t.Community == community }), nil
}

func (r *fakeThreadRepo) FindByUsername(_ context.Context, username string) ([]model.Thread, error) {
	return r.filter(func(t *model.Thread) bool { return t.Username == username }), nil
}

func (r *fakeThreadRepo) SearchKeyword(_ context.Context, q string) ([]model.Thread, error) {
	return r.filter(func(t *model.Thread) bool {
		return containsFold(t.Content, q) || containsAnyFold(t.Tags, q)
	}), nil
}

func (r *fakeThreadRepo) Sample(_ context.Context, n int) ([]model.Thread, error) {
	all := r.filter(func(*model.Thread) bool { return true })
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func (r *fakeThreadRepo) filter(keep func(*model.Thread) bool) []model.Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Thread
	for _, thread := range r.threads {
		if keep(thread) {
			out = append(out, *thread)
		}
	}
	return out
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func containsAnyFold(values []string, sub string) bool {
	for _, v := range values {
		if containsFold(v, sub) {
			return true
		}
	}
	return false
}
