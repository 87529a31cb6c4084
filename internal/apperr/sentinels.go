package apperr

// Generic kind sentinels, for errors.Is(err, apperr.ErrNotFound) style checks.
var (
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrConflict   = &Error{Kind: KindConflict}
	ErrStorage    = &Error{Kind: KindStorage}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrValidation = &Error{Kind: KindInvalidArgument}
)

// Domain errors.
var (
	ErrUserNotFound          = NotFound("user not found")
	ErrConversationNotFound  = NotFound("conversation not found")
	ErrGroupNotFound         = NotFound("group not found")
	ErrMessageNotFound       = NotFound("message not found")
	ErrMemberNotFound        = NotFound("member not found")
	ErrFriendRequestNotFound = NotFound("friend request not found")

	ErrSelfConversation = InvalidArgument("cannot start a conversation with yourself")
	ErrEmptyContent     = InvalidArgument("message content cannot be empty")
	ErrInvalidTarget    = New(KindInvalidTarget, "exactly one of recipientId or groupId must be set")

	ErrNotParticipant = Forbidden("not a participant of this conversation")
	ErrNotMember      = Forbidden("not a member of this group")
	ErrNotAdmin       = Forbidden("only the group admin can do this")
	ErrAdminMustLeave = InvalidArgument("the admin cannot remove themself, use leave instead")

	ErrDecryption = New(KindDecryption, "message decryption failed")

	ErrInvalidCredentials = Unauthorized("invalid username or password")
	ErrInvalidToken       = Unauthorized("invalid or expired token")
	ErrAccountLocked      = RateLimited("account temporarily locked, try again later")
	ErrUserAlreadyExists  = Conflict("username or email already exists")

	ErrFriendRequestSelf   = InvalidArgument("cannot send a friend request to yourself")
	ErrFriendRequestExists = Conflict("a friend request already exists")
	ErrAlreadyFriends      = Conflict("already friends")
	ErrNotRequestRecipient = Forbidden("not the recipient of this friend request")
	ErrRequestNotPending   = Conflict("friend request is not pending")
)
