package gateway

// Inbound payloads. Struct tags are checked by go-playground/validator before any handler runs.

type authenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

type conversationRef struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type attachmentPayload struct {
	URL      string `json:"url" validate:"required"`
	Name     string `json:"name" validate:"max=255"`
	MimeType string `json:"mimeType" validate:"max=255"`
	Size     int64  `json:"size" validate:"gte=0"`
}

type sendMessagePayload struct {
	ConversationID string             `json:"conversationId" validate:"required"`
	Type           string             `json:"type" validate:"required"`
	Content        string             `json:"content"`
	Attachment     *attachmentPayload `json:"attachment" validate:"omitempty"`
	ReplyTo        string             `json:"replyTo"`
	Mentions       []string           `json:"mentions" validate:"max=100,dive,required"`
}

type typingPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	IsTyping       bool   `json:"isTyping"`
}

type markAsReadPayload struct {
	ConversationID string   `json:"conversationId" validate:"required"`
	MessageIDs     []string `json:"messageIds" validate:"required,min=1,max=500,dive,required"`
}

type addReactionPayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required"`
}

type messageRef struct {
	MessageID string `json:"messageId" validate:"required"`
}

type createConversationPayload struct {
	ParticipantIDs []string `json:"participantIds" validate:"required,min=1,max=256,dive,required"`
	Type           string   `json:"type" validate:"required,oneof=private group"`
	Title          string   `json:"title" validate:"max=100"`
}

type editMessagePayload struct {
	MessageID string `json:"messageId" validate:"required"`
	Content   string `json:"content" validate:"required"`
}

type getMessagesPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Cursor         string `json:"cursor"`
	Limit          int    `json:"limit" validate:"gte=0,lte=100"`
}

type pagePayload struct {
	Page  int `json:"page" validate:"gte=0"`
	Limit int `json:"limit" validate:"gte=0,lte=100"`
}

type addParticipantsPayload struct {
	ConversationID string   `json:"conversationId" validate:"required"`
	UserIDs        []string `json:"userIds" validate:"required,min=1,max=256,dive,required"`
}

type removeParticipantPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	UserID         string `json:"userId" validate:"required"`
}

type searchPayload struct {
	Term  string `json:"term" validate:"required"`
	Page  int    `json:"page" validate:"gte=0"`
	Limit int    `json:"limit" validate:"gte=0,lte=100"`
}
