package apiserver

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Handlers 汇集 API 服务器的所有处理器。
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Groups        *GroupHandler
	Friends       *FriendRequestHandler
}

// NewRouter 注册全部 REST 路由。/auth 下的注册、登录和刷新无需认证，/api/v1 下的路由经过 authMW。
func NewRouter(h Handlers, authMW mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()

	// 认证路由
	authRouter := r.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/register", h.Auth.Register).Methods(http.MethodPost)
	authRouter.HandleFunc("/login", h.Auth.Login).Methods(http.MethodPost)
	authRouter.HandleFunc("/refresh", h.Auth.Refresh).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW)

	api.HandleFunc("/auth/logout", h.Auth.Logout).Methods(http.MethodPost)

	// 用户路由
	api.HandleFunc("/users/me", h.Users.GetMyProfile).Methods(http.MethodGet)
	api.HandleFunc("/users/me", h.Users.UpdateMyProfile).Methods(http.MethodPut)
	api.HandleFunc("/users", h.Users.ListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID:[0-9]+}", h.Users.GetUser).Methods(http.MethodGet)

	// 会话路由
	api.HandleFunc("/conversations", h.Conversations.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations/private", h.Conversations.CreatePrivate).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id:[0-9]+}", h.Conversations.GetConversation).Methods(http.MethodGet)
	api.HandleFunc("/conversations/{id:[0-9]+}", h.Conversations.DeleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id:[0-9]+}/read", h.Conversations.MarkRead).Methods(http.MethodPut)
	api.HandleFunc("/conversations/{id:[0-9]+}/messages", h.Conversations.ListMessages).Methods(http.MethodGet)

	// 消息路由
	api.HandleFunc("/messages", h.Messages.Send).Methods(http.MethodPost)
	api.HandleFunc("/messages/private/{userID:[0-9]+}", h.Messages.PrivateThread).Methods(http.MethodGet)
	api.HandleFunc("/messages/group/{groupID:[0-9]+}", h.Messages.GroupThread).Methods(http.MethodGet)

	// 群组路由
	api.HandleFunc("/groups", h.Groups.CreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups", h.Groups.ListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id:[0-9]+}", h.Groups.GetGroup).Methods(http.MethodGet)
	api.HandleFunc("/groups/{id:[0-9]+}", h.Groups.UpdateGroup).Methods(http.MethodPut)
	api.HandleFunc("/groups/{id:[0-9]+}/members", h.Groups.AddMembers).Methods(http.MethodPost)
	api.HandleFunc("/groups/{id:[0-9]+}/members/{userID:[0-9]+}", h.Groups.RemoveMember).Methods(http.MethodDelete)
	api.HandleFunc("/groups/{id:[0-9]+}/leave", h.Groups.Leave).Methods(http.MethodPost)

	// 好友请求路由
	api.HandleFunc("/friends", h.Friends.ListFriends).Methods(http.MethodGet)
	friendRequests := api.PathPrefix("/friend-requests").Subrouter()
	friendRequests.HandleFunc("", h.Friends.SendFriendRequest).Methods(http.MethodPost)
	friendRequests.HandleFunc("/pending", h.Friends.ListPending).Methods(http.MethodGet)
	friendRequests.HandleFunc("/{id:[0-9]+}/accept", h.Friends.Accept).Methods(http.MethodPost)
	friendRequests.HandleFunc("/{id:[0-9]+}/reject", h.Friends.Reject).Methods(http.MethodPost)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return r
}
