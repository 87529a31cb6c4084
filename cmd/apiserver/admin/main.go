// Command admin 是运维用的命令行工具，直接读写数据库。
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"im-chat/internal/config"
	"im-chat/internal/logger"
	"im-chat/internal/storage"
)

const timeLayout = "2006-01-02 15:04:05"

func usage() {
	fmt.Println("使用方法:")
	fmt.Println("  ./admin list-participants <conversationID> - 列出会话参与者的用户信息")
	fmt.Println("  ./admin show-conversation <conversationID> - 显示会话及参与者状态")
	fmt.Println("  ./admin show-group <groupID>               - 显示群组信息和成员（按加入顺序）")
	fmt.Println("  ./admin unlock-user <username|email>       - 清除登录失败计数，解除锁定")
}

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(os.Getenv("IM_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	log := logger.Must("warn", "console").Named("admin")
	defer func() { _ = log.Sync() }()

	db, err := storage.InitDB(cfg.Database, log)
	if err != nil {
		log.Fatal("无法初始化数据库", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch os.Args[1] {
	case "list-participants":
		err = listParticipants(ctx, storage.NewGormConversationRepository(db), storage.NewGormUserRepository(db), parseID(os.Args[2]))
	case "show-conversation":
		err = showConversation(ctx, storage.NewGormConversationRepository(db), parseID(os.Args[2]))
	case "show-group":
		err = showGroup(ctx, storage.NewGormGroupRepository(db), parseID(os.Args[2]))
	case "unlock-user":
		err = unlockUser(ctx, storage.NewGormUserRepository(db), os.Args[2])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatal("命令执行失败", zap.String("command", os.Args[1]), zap.Error(err))
	}
}

func parseID(raw string) uint {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		fmt.Fprintf(os.Stderr, "无效的ID: %s\n", raw)
		os.Exit(1)
	}
	return uint(id)
}

func listParticipants(ctx context.Context, convos storage.ConversationRepository, users storage.UserRepository, id uint) error {
	conv, err := convos.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("获取会话失败: %w", err)
	}
	ids := make([]uint, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		ids = append(ids, p.UserID)
	}
	infos, err := users.GetMultipleBasicInfoByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("获取用户信息失败: %w", err)
	}

	fmt.Printf("会话 %d 的参与者:\n", conv.ID)
	for _, info := range infos {
		fmt.Printf("  - 用户ID: %d, 用户名: %s, 状态: %s\n", info.ID, info.Username, info.Status)
	}
	return nil
}

func showConversation(ctx context.Context, repo storage.ConversationRepository, id uint) error {
	conv, err := repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("获取会话失败: %w", err)
	}

	fmt.Printf("会话 %d 信息:\n", conv.ID)
	fmt.Println("--------------------------------------")
	fmt.Printf("参与者: %d <-> %d\n", conv.User1ID, conv.User2ID)
	fmt.Printf("有效: %v\n", conv.IsActive)
	fmt.Printf("创建时间: %s\n", conv.CreatedAt.Format(timeLayout))
	fmt.Printf("最后消息时间: %s\n", conv.LastMessageAt.Format(timeLayout))
	for _, p := range conv.Participants {
		fmt.Printf("  用户 %d: 加入 %s, 已读至 %s, 隐藏 %s\n",
			p.UserID, p.JoinedAt.Format(timeLayout), formatTime(p.LastReadAt), formatTime(p.HiddenAt))
	}
	return nil
}

func showGroup(ctx context.Context, repo storage.GroupRepository, id uint) error {
	group, err := repo.GetGroupByID(ctx, id)
	if err != nil {
		return fmt.Errorf("查找群组失败: %w", err)
	}

	fmt.Printf("群组 %d 信息:\n", group.ID)
	fmt.Println("--------------------------------------")
	fmt.Printf("名称: %s\n", group.Name)
	fmt.Printf("描述: %s\n", group.Description)
	fmt.Printf("管理员: %d\n", group.AdminID)
	fmt.Printf("创建时间: %s\n", group.CreatedAt.Format(timeLayout))
	fmt.Printf("最后消息时间: %s\n", formatTime(group.LastMessageAt))
	fmt.Printf("成员 (%d 人):\n", len(group.Members))
	for i, m := range group.Members {
		admin := ""
		if m.UserID == group.AdminID {
			admin = " [admin]"
		}
		fmt.Printf("  #%d 用户 %d, 加入时间 %s%s\n", i+1, m.UserID, m.JoinedAt.Format(timeLayout), admin)
	}
	return nil
}

func unlockUser(ctx context.Context, repo storage.UserRepository, login string) error {
	user, err := repo.GetByLogin(ctx, login)
	if err != nil {
		return fmt.Errorf("查找用户失败: %w", err)
	}
	if err := repo.ResetFailedLogins(ctx, user.ID); err != nil {
		return fmt.Errorf("重置登录失败计数失败: %w", err)
	}
	fmt.Printf("用户 %s (ID %d) 已解除锁定，之前失败次数 %d\n", user.Username, user.ID, user.FailedLoginAttempts)
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}
