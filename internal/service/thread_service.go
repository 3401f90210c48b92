package service

import (
	"context"
	"time"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/log"
)

// ThreadService 实现帖子的写路径。
type ThreadService struct {
	threadRepo repository.ThreadRepository
	userRepo   repository.UserRepository
	mirror     *indexMirror
}

// NewThreadService 创建一个新的 ThreadService 实例。
func NewThreadService(threadRepo repository.ThreadRepository, userRepo repository.UserRepository, store es.Store, queue ReindexEnqueuer) *ThreadService {
	return &ThreadService{
		threadRepo: threadRepo,
		userRepo:   userRepo,
		mirror:     &indexMirror{store: store, queue: queue},
	}
}

// SaveThread 发布一条帖子。作者以用户名引用，不存在则整个操作失败。
func (s *ThreadService) SaveThread(ctx context.Context, in *model.SaveThreadInput) (*model.ThreadDTO, error) {
	if in.Content == "" {
		return nil, errs.Validation("帖子内容不能为空")
	}
	if in.Username == "" {
		return nil, errs.Validation("作者用户名不能为空")
	}
	if in.Community == "" {
		return nil, errs.Validation("所属社区不能为空")
	}
	author, err := s.userRepo.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, err
	}

	avatar := in.UserAvatar
	if avatar == "" {
		avatar = author.Avatar
	}
	thread := &model.Thread{
		Content:    in.Content,
		UserID:     author.ID,
		Username:   author.Username,
		UserAvatar: avatar,
		Community:  in.Community,
		Location:   in.Location,
		Tags:       in.Tags,
	}
	if in.CreatedAt != nil {
		thread.CreatedAt = *in.CreatedAt
	} else {
		thread.CreatedAt = time.Now()
	}

	thread, err = s.threadRepo.Insert(ctx, thread)
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.AddPost(ctx, author.HexID(), thread.ID); err != nil {
		log.Errorf("追加帖子引用失败: user=%s, thread=%s, err=%v", author.Username, thread.HexID(), err)
	}

	s.mirror.index(ctx, es.IndexThreads, thread.HexID(), thread.IndexDoc())
	return model.NewThreadDTO(thread), nil
}

// UpdateThread 更新一条帖子，只有作者本人可以修改。
func (s *ThreadService) UpdateThread(ctx context.Context, threadID string, requester *model.User, in *model.UpdateThreadInput) (*model.ThreadDTO, error) {
	if in.Empty() {
		return nil, errs.Validation("没有需要更新的字段")
	}
	thread, err := s.threadRepo.FindByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if thread.UserID != requester.ID {
		return nil, errs.Permission("无权限修改此帖子")
	}

	fields := map[string]interface{}{}
	if in.Content != nil {
		fields["content"] = *in.Content
	}
	if in.Community != nil {
		fields["community"] = *in.Community
	}
	if in.Location != nil {
		fields["location"] = *in.Location
	}
	if in.Tags != nil {
		fields["tags"] = in.Tags
	}

	thread, err = s.threadRepo.UpdateFields(ctx, threadID, fields)
	if err != nil {
		return nil, err
	}

	s.mirror.update(ctx, es.IndexThreads, thread.HexID(), fields,
		func() interface{} { return thread.IndexDoc() })
	return model.NewThreadDTO(thread), nil
}

// DeleteThread 删除一条帖子，只有作者本人可以删除。
func (s *ThreadService) DeleteThread(ctx context.Context, threadID string, requester *model.User) error {
	thread, err := s.threadRepo.FindByID(ctx, threadID)
	if err != nil {
		return err
	}
	if thread.UserID != requester.ID {
		return errs.Permission("无权限删除此帖子")
	}
	if err := s.threadRepo.Delete(ctx, threadID); err != nil {
		return err
	}

	s.mirror.delete(ctx, es.IndexThreads, threadID)
	if err := s.userRepo.RemovePost(ctx, thread.UserID.Hex(), thread.ID); err != nil {
		log.Errorf("清理帖子引用失败: user=%s, thread=%s, err=%v", thread.Username, threadID, err)
	}
	return nil
}
