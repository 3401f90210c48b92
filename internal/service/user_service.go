package service

import (
	"context"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/hash"
	"wisdomlink-go/pkg/log"
)

// UserService 实现用户的写路径与信息读取。
type UserService struct {
	userRepo repository.UserRepository
	mirror   *indexMirror
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo repository.UserRepository, store es.Store, queue ReindexEnqueuer) *UserService {
	return &UserService{
		userRepo: userRepo,
		mirror:   &indexMirror{store: store, queue: queue},
	}
}

// CreateUser 注册一个新用户。用户名唯一，密码以 bcrypt 哈希存储。
func (s *UserService) CreateUser(ctx context.Context, in *model.CreateUserInput) (*model.UserInfoDTO, error) {
	if in.Username == "" {
		return nil, errs.Validation("用户名不能为空")
	}
	if len(in.Password) < 6 {
		return nil, errs.Validation("密码长度不能少于 6 位")
	}
	if _, err := s.userRepo.FindByUsername(ctx, in.Username); err == nil {
		return nil, errs.Validation("用户名已存在: " + in.Username)
	} else if !errs.IsNotFound(err) {
		return nil, err
	}

	hashed, err := hash.HashPassword(in.Password)
	if err != nil {
		return nil, errs.Store("密码哈希失败", err)
	}
	avatar := in.Avatar
	if avatar == "" {
		avatar = model.DefaultAvatar
	}
	user := &model.User{
		Username: in.Username,
		Password: hashed,
		Motto:    in.Motto,
		Avatar:   avatar,
		Taps:     in.Taps,
		Level:    1,
	}
	user, err = s.userRepo.Insert(ctx, user)
	if err != nil {
		return nil, err
	}

	s.mirror.index(ctx, es.IndexUsers, user.HexID(), model.NewUserInfo(user))
	return model.NewUserInfo(user), nil
}

// GetUserByID 按 ID 从主存储读取用户记录。
func (s *UserService) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return s.userRepo.FindByID(ctx, id)
}

// GetUserByUsername 按用户名从主存储读取用户记录。
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	return s.userRepo.FindByUsername(ctx, username)
}

// GetUserInfo 读取用户信息。等级只由高质量回答数派生，
// 读取时重算，发现落后则顺带修复主存储与索引。
func (s *UserService) GetUserInfo(ctx context.Context, username string) (*model.UserInfoDTO, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	level := model.LevelForHighQuality(user.HighQualityAnswerCount)
	if level != user.Level {
		updated, err := s.userRepo.UpdateFields(ctx, user.HexID(), map[string]interface{}{"level": level})
		if err != nil {
			// 修复失败不阻塞读取，按重算后的等级返回。
			log.Errorf("回写用户等级失败: user=%s, err=%v", username, err)
			user.Level = level
		} else {
			user = updated
			s.mirror.update(ctx, es.IndexUsers, user.HexID(),
				map[string]interface{}{"level": user.Level},
				func() interface{} { return model.NewUserInfo(user) })
		}
	}
	return model.NewUserInfo(user), nil
}

// UpdateUserInfo 更新用户资料。改名时要求新用户名未被占用。
func (s *UserService) UpdateUserInfo(ctx context.Context, user *model.User, in *model.UpdateUserInput) (*model.UserInfoDTO, error) {
	fields := map[string]interface{}{}
	if in.Username != nil && *in.Username != user.Username {
		if *in.Username == "" {
			return nil, errs.Validation("用户名不能为空")
		}
		if _, err := s.userRepo.FindByUsername(ctx, *in.Username); err == nil {
			return nil, errs.Validation("用户名已存在: " + *in.Username)
		} else if !errs.IsNotFound(err) {
			return nil, err
		}
		fields["username"] = *in.Username
	}
	if in.Motto != nil {
		fields["motto"] = *in.Motto
	}
	if in.Avatar != nil {
		fields["avatar"] = *in.Avatar
	}
	if in.Taps != nil {
		fields["taps"] = in.Taps
	}
	if len(fields) == 0 {
		return model.NewUserInfo(user), nil
	}

	updated, err := s.userRepo.UpdateFields(ctx, user.HexID(), fields)
	if err != nil {
		return nil, err
	}

	s.mirror.update(ctx, es.IndexUsers, updated.HexID(), fields,
		func() interface{} { return model.NewUserInfo(updated) })
	return model.NewUserInfo(updated), nil
}

// DeleteUser 注销用户，主存储删除成功后尽力清理索引文档。
func (s *UserService) DeleteUser(ctx context.Context, username string) error {
	user, err := s.userRepo.DeleteByUsername(ctx, username)
	if err != nil {
		return err
	}
	s.mirror.delete(ctx, es.IndexUsers, user.HexID())
	return nil
}

// EvaluateUser 记录一次回答评价：回答计数加一，评价为 excellent 时
// 高质量回答计数同步加一，并对索引做部分更新。
func (s *UserService) EvaluateUser(ctx context.Context, in *model.EvaluateInput) (*model.EvaluationResult, error) {
	if in.Username == "" {
		return nil, errs.Validation("被评价的用户名不能为空")
	}
	user, err := s.userRepo.FindByUsername(ctx, in.Username)
	if err != nil {
		return nil, err
	}

	isExcellent := in.Rating == "excellent"
	counters := map[string]int{"answerCount": 1}
	if isExcellent {
		counters["highQualityAnswerCount"] = 1
	}
	user, err = s.userRepo.IncrementCounters(ctx, user.HexID(), counters)
	if err != nil {
		return nil, err
	}

	s.mirror.update(ctx, es.IndexUsers, user.HexID(), map[string]interface{}{
		"answerCount":            user.AnswerCount,
		"highQualityAnswerCount": user.HighQualityAnswerCount,
	}, func() interface{} { return model.NewUserInfo(user) })

	return &model.EvaluationResult{
		Username:               user.Username,
		AnswerCount:            user.AnswerCount,
		HighQualityAnswerCount: user.HighQualityAnswerCount,
		IsExcellent:            isExcellent,
	}, nil
}
