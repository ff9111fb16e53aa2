package handlers

import (
  "io"
  "net/http"

  "github.com/gin-gonic/gin"
  "github.com/google/uuid"

  "github.com/teachsketch-org/teachsketch-backend/internal/errordata"
  "github.com/teachsketch-org/teachsketch-backend/internal/services"
)

type ChatHandler struct {
  chatService services.ChatService
}

func NewChatHandler(chatService services.ChatService) *ChatHandler {
  return &ChatHandler{chatService: chatService}
}

func (ch *ChatHandler) CreateSession(c *gin.Context) {
  var req struct {
    Category string `json:"category"`
    Question string `json:"question"`
  }
  if err := c.ShouldBindJSON(&req); err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  session, messages, err := ch.chatService.StartNewSession(c.Request.Context(), req.Category, req.Question)
  if err != nil {
    writeChatError(c, http.StatusBadRequest, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"session": session, "messages": messages})
}

func (ch *ChatHandler) ListSessions(c *gin.Context) {
  sessions, err := ch.chatService.GetUserSessions(c.Request.Context(), c.Query("category"))
  if err != nil {
    writeChatError(c, http.StatusBadRequest, err)
    return
  }
  c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (ch *ChatHandler) GetSessionMessages(c *gin.Context) {
  sessionID, err := uuid.Parse(c.Param("sessionID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
    return
  }
  messages, mErr := ch.chatService.GetSessionMessages(c.Request.Context(), sessionID)
  if mErr != nil {
    writeChatError(c, http.StatusBadRequest, mErr)
    return
  }
  c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (ch *ChatHandler) RenameSession(c *gin.Context) {
  sessionID, err := uuid.Parse(c.Param("sessionID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
    return
  }
  var req struct {
    Title string `json:"title"`
  }
  if bErr := c.ShouldBindJSON(&req); bErr != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  session, rErr := ch.chatService.RenameSession(c.Request.Context(), sessionID, req.Title)
  if rErr != nil {
    writeChatError(c, http.StatusBadRequest, rErr)
    return
  }
  c.JSON(http.StatusOK, gin.H{"session": session})
}

func (ch *ChatHandler) SendMessage(c *gin.Context) {
  sessionID, err := uuid.Parse(c.Param("sessionID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
    return
  }
  var req struct {
    Question string `json:"question"`
  }
  if bErr := c.ShouldBindJSON(&req); bErr != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
    return
  }
  messages, sErr := ch.chatService.SendUserMessage(c.Request.Context(), sessionID, req.Question)
  if sErr != nil {
    writeChatError(c, http.StatusBadGateway, sErr)
    return
  }
  c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (ch *ChatHandler) SendFile(c *gin.Context) {
  sessionID, err := uuid.Parse(c.Param("sessionID"))
  if err != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
    return
  }
  fileHeader, fErr := c.FormFile("file")
  if fErr != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
    return
  }
  if fileHeader.Size > int64(services.MaxUploadBytes) {
    c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
    return
  }
  f, oErr := fileHeader.Open()
  if oErr != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
    return
  }
  defer f.Close()
  data, rErr := io.ReadAll(io.LimitReader(f, int64(services.MaxUploadBytes)+1))
  if rErr != nil {
    c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
    return
  }

  messages, sErr := ch.chatService.SendFileMessage(
    c.Request.Context(),
    sessionID,
    fileHeader.Filename,
    fileHeader.Header.Get("Content-Type"),
    data,
    c.PostForm("note"),
  )
  if sErr != nil {
    writeChatError(c, http.StatusBadRequest, sErr)
    return
  }
  c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// writeChatError surfaces any detail a service attached to the request
// context next to the generic error string.
func writeChatError(c *gin.Context, status int, err error) {
  body := gin.H{"error": err.Error()}
  if ed := errordata.GetErrorData(c.Request.Context()); ed != nil && ed.HasMessage() {
    body["details"] = ed.Message
  }
  c.JSON(status, body)
}
