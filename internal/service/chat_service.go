package service

import (
	"context"
	"time"

	"wisdomlink-go/internal/errs"
	"wisdomlink-go/internal/model"
	"wisdomlink-go/internal/repository"
	"wisdomlink-go/pkg/es"
	"wisdomlink-go/pkg/log"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ChatService 实现对话的写路径：主存储为权威，索引为尽力而为的镜像。
type ChatService struct {
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	mirror   *indexMirror
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(chatRepo repository.ChatRepository, userRepo repository.UserRepository, store es.Store, queue ReindexEnqueuer) *ChatService {
	return &ChatService{
		chatRepo: chatRepo,
		userRepo: userRepo,
		mirror:   &indexMirror{store: store, queue: queue},
	}
}

// SaveChat 新建或整体更新一条对话。
// 双方以用户名引用，先解析为用户记录；任一方不存在则整个操作失败。
// 携带 _id 时为整体更新，已结束的对话不允许改回进行中。
func (s *ChatService) SaveChat(ctx context.Context, in *model.SaveChatInput) (*model.ChatDTO, error) {
	if in.QuestionUsername == "" || in.AnswerUsername == "" {
		return nil, errs.Validation("提问方和回答方用户名不能为空")
	}
	if in.QuestionUsername == in.AnswerUsername {
		return nil, errs.Validation("提问方和回答方不能是同一个用户")
	}
	if in.Community == "" {
		return nil, errs.Validation("所属社区不能为空")
	}
	status := in.Status
	if status == "" {
		status = model.StatusOngoing
	}
	if status != model.StatusOngoing && status != model.StatusCompleted {
		return nil, errs.Validation("无效的对话状态: " + status)
	}

	questioner, err := s.userRepo.FindByUsername(ctx, in.QuestionUsername)
	if err != nil {
		return nil, err
	}
	answerer, err := s.userRepo.FindByUsername(ctx, in.AnswerUsername)
	if err != nil {
		return nil, err
	}

	messages, err := resolveMessages(in.Messages, questioner, answerer)
	if err != nil {
		return nil, err
	}

	if in.ID != "" {
		return s.replaceChat(ctx, in, questioner, answerer, messages, status)
	}
	return s.createChat(ctx, in, questioner, answerer, messages, status)
}

func (s *ChatService) createChat(ctx context.Context, in *model.SaveChatInput, questioner, answerer *model.User, messages []model.ChatMessage, status string) (*model.ChatDTO, error) {
	chat := &model.Chat{
		QuestionUserID:   questioner.ID,
		QuestionUsername: questioner.Username,
		AnswerUserID:     answerer.ID,
		AnswerUsername:   answerer.Username,
		Content:          in.Content,
		Community:        in.Community,
		Tags:             in.Tags,
		Status:           status,
		Messages:         messages,
	}
	chat, err := s.chatRepo.Insert(ctx, chat)
	if err != nil {
		return nil, err
	}

	// 反向引用与提问计数是便捷冗余，失败不回滚对话本身。
	if err := s.userRepo.AddChatRef(ctx, questioner.HexID(), chat.ID, model.RoleQuestioner); err != nil {
		log.Errorf("追加提问方对话引用失败: user=%s, chat=%s, err=%v", questioner.Username, chat.HexID(), err)
	}
	if err := s.userRepo.AddChatRef(ctx, answerer.HexID(), chat.ID, model.RoleAnswerer); err != nil {
		log.Errorf("追加回答方对话引用失败: user=%s, chat=%s, err=%v", answerer.Username, chat.HexID(), err)
	}
	if updated, err := s.userRepo.IncrementCounters(ctx, questioner.HexID(), map[string]int{"questionCount": 1}); err != nil {
		log.Errorf("累加提问计数失败: user=%s, err=%v", questioner.Username, err)
	} else {
		s.mirror.update(ctx, es.IndexUsers, updated.HexID(),
			map[string]interface{}{"questionCount": updated.QuestionCount},
			func() interface{} { return model.NewUserInfo(updated) })
	}

	s.mirror.index(ctx, es.IndexChats, chat.HexID(), chat.IndexDoc())
	return model.NewChatDTO(chat), nil
}

func (s *ChatService) replaceChat(ctx context.Context, in *model.SaveChatInput, questioner, answerer *model.User, messages []model.ChatMessage, status string) (*model.ChatDTO, error) {
	existing, err := s.chatRepo.FindByID(ctx, in.ID)
	if err != nil {
		return nil, err
	}
	if existing.Status == model.StatusCompleted && status == model.StatusOngoing {
		return nil, errs.Permission("已结束的对话不能重新开启")
	}

	chat, err := s.chatRepo.UpdateFields(ctx, in.ID, map[string]interface{}{
		"questionUserId":   questioner.ID,
		"questionUsername": questioner.Username,
		"answerUserId":     answerer.ID,
		"answerUsername":   answerer.Username,
		"content":          in.Content,
		"community":        in.Community,
		"tags":             in.Tags,
		"status":           status,
		"messages":         messages,
	})
	if err != nil {
		return nil, err
	}

	s.mirror.index(ctx, es.IndexChats, chat.HexID(), chat.IndexDoc())
	return model.NewChatDTO(chat), nil
}

// AddMessage 向对话追加一条消息。
// 只有参与者可以发送，已结束的对话拒绝追加；追加后对索引做部分更新。
func (s *ChatService) AddMessage(ctx context.Context, chatID string, sender *model.User, content string, timestamp *time.Time) (*model.ChatDTO, error) {
	if content == "" {
		return nil, errs.Validation("消息内容不能为空")
	}
	chat, err := s.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.IsParticipant(sender.ID) {
		return nil, errs.Permission("不是对话参与者，无法发送消息")
	}
	if chat.Status == model.StatusCompleted {
		return nil, errs.Permission("对话已结束，无法发送消息")
	}

	ts := time.Now()
	if timestamp != nil {
		ts = *timestamp
	}
	chat, err = s.chatRepo.PushMessage(ctx, chatID, model.ChatMessage{
		SenderID:       sender.ID,
		SenderUsername: sender.Username,
		Content:        content,
		Timestamp:      ts,
	})
	if err != nil {
		return nil, err
	}

	s.mirror.update(ctx, es.IndexChats, chat.HexID(), map[string]interface{}{
		"messages":  chat.Messages,
		"updatedAt": chat.UpdatedAt,
	}, func() interface{} { return chat.IndexDoc() })
	return model.NewChatDTO(chat), nil
}

// UpdateStatus 推进对话状态。completed 是终态：重复结束是幂等操作，
// 从 completed 回到 ongoing 则被拒绝。
func (s *ChatService) UpdateStatus(ctx context.Context, chatID, status string) (*model.ChatDTO, error) {
	if status != model.StatusOngoing && status != model.StatusCompleted {
		return nil, errs.Validation("无效的对话状态: " + status)
	}
	chat, err := s.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat.Status == model.StatusCompleted {
		if status == model.StatusOngoing {
			return nil, errs.Permission("已结束的对话不能重新开启")
		}
		return model.NewChatDTO(chat), nil
	}
	if chat.Status == status {
		return model.NewChatDTO(chat), nil
	}

	chat, err = s.chatRepo.UpdateFields(ctx, chatID, map[string]interface{}{"status": status})
	if err != nil {
		return nil, err
	}

	s.mirror.update(ctx, es.IndexChats, chat.HexID(), map[string]interface{}{
		"status":    chat.Status,
		"updatedAt": chat.UpdatedAt,
	}, func() interface{} { return chat.IndexDoc() })
	return model.NewChatDTO(chat), nil
}

// GetStatus 从主存储读取对话当前状态。
func (s *ChatService) GetStatus(ctx context.Context, chatID string) (string, error) {
	chat, err := s.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return "", err
	}
	return chat.Status, nil
}

// DeleteChat 删除一条对话。只有参与者可以删除；
// 主存储删除成功后，索引删除与反向引用清理都是尽力而为。
func (s *ChatService) DeleteChat(ctx context.Context, chatID string, requester *model.User) error {
	chat, err := s.chatRepo.FindByID(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(requester.ID) {
		return errs.Permission("不是对话参与者，无法删除")
	}
	if err := s.chatRepo.Delete(ctx, chatID); err != nil {
		return err
	}

	s.mirror.delete(ctx, es.IndexChats, chatID)
	for _, uid := range []primitive.ObjectID{chat.QuestionUserID, chat.AnswerUserID} {
		if err := s.userRepo.RemoveChatRef(ctx, uid.Hex(), chat.ID); err != nil {
			log.Errorf("清理对话引用失败: user=%s, chat=%s, err=%v", uid.Hex(), chatID, err)
		}
	}
	return nil
}

// resolveMessages 把以用户名引用发送者的消息解析为存储形态，
// 发送者必须是对话双方之一。
func resolveMessages(inputs []model.ChatMessageInput, questioner, answerer *model.User) ([]model.ChatMessage, error) {
	messages := make([]model.ChatMessage, 0, len(inputs))
	for _, m := range inputs {
		var sender *model.User
		switch m.SenderUsername {
		case questioner.Username:
			sender = questioner
		case answerer.Username:
			sender = answerer
		default:
			return nil, errs.Validation("消息发送者不是对话参与者: " + m.SenderUsername)
		}
		ts := time.Now()
		if m.Timestamp != nil {
			ts = *m.Timestamp
		}
		messages = append(messages, model.ChatMessage{
			SenderID:       sender.ID,
			SenderUsername: sender.Username,
			Content:        m.Content,
			Timestamp:      ts,
		})
	}
	return messages, nil
}
