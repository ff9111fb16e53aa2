package services

import (
  "context"
  "encoding/base64"
  "fmt"
  "regexp"
  "strings"
  "sync"
  "time"

  "github.com/google/uuid"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/errordata"
  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/normalization"
  "github.com/teachsketch-org/teachsketch-backend/internal/repos"
  "github.com/teachsketch-org/teachsketch-backend/internal/requestdata"
  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

// pdfLinkPattern matches document links embedded in a model reply. Captured
// documents become follow-up assistant messages.
var pdfLinkPattern = regexp.MustCompile(`https?://[^\s]+\.pdf`)

type ChatService interface {
  StartNewSession(ctx context.Context, category, question string) (*types.ChatSession, []*types.ChatMessage, error)
  GetUserSessions(ctx context.Context, category string) ([]*types.ChatSession, error)
  GetSessionMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.ChatMessage, error)
  RenameSession(ctx context.Context, sessionID uuid.UUID, title string) (*types.ChatSession, error)
  SendUserMessage(ctx context.Context, sessionID uuid.UUID, question string) ([]*types.ChatMessage, error)
  SendFileMessage(ctx context.Context, sessionID uuid.UUID, fileName, contentType string, data []byte, note string) ([]*types.ChatMessage, error)
}

type chatService struct {
  db              *gorm.DB
  log             *logger.Logger
  chatSessionRepo repos.ChatSessionRepo
  chatMessageRepo repos.ChatMessageRepo
  genaiService    GenAIService
  fetcherService  AssetFetcherService
  bucketService   BucketService
  notifier        Notifier

  // One in-flight turn per session. Concurrent sends on the same session
  // queue here instead of interleaving their appends.
  sessionMu   sync.Mutex
  sessionLock map[uuid.UUID]*sessionLockEntry
}

// sessionLockEntry counts its holders and waiters so lockSession can drop
// the map entry once the last one releases.
type sessionLockEntry struct {
  mu   sync.Mutex
  refs int
}

func NewChatService(
  db *gorm.DB,
  log *logger.Logger,
  chatSessionRepo repos.ChatSessionRepo,
  chatMessageRepo repos.ChatMessageRepo,
  genaiService GenAIService,
  fetcherService AssetFetcherService,
  bucketService BucketService,
  notifier Notifier,
) ChatService {
  serviceLog := log.With("service", "ChatService")
  return &chatService{
    db:              db,
    log:             serviceLog,
    chatSessionRepo: chatSessionRepo,
    chatMessageRepo: chatMessageRepo,
    genaiService:    genaiService,
    fetcherService:  fetcherService,
    bucketService:   bucketService,
    notifier:        notifier,
    sessionLock:     make(map[uuid.UUID]*sessionLockEntry),
  }
}

//----------------------------------------------------------------------------------------------------------------------
// Sessions
//----------------------------------------------------------------------------------------------------------------------

func (cs *chatService) StartNewSession(ctx context.Context, category, question string) (*types.ChatSession, []*types.ChatMessage, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    cs.log.Warn("No Request Data found in context, Cannot proceed.")
    return nil, nil, fmt.Errorf("No Request Data found in context.")
  }
  if category != types.SessionCategoryImage && category != types.SessionCategoryDocument {
    return nil, nil, fmt.Errorf("invalid session category: '%s'", category)
  }
  if normalization.ParseInputString(question) == "" {
    return nil, nil, fmt.Errorf("question cannot be empty")
  }
  cs.log.Info("Starting new chat session now...", "category", category)

  // Title is the first question verbatim, no truncation.
  session, err := cs.chatSessionRepo.CreateSession(ctx, nil, &types.ChatSession{
    ID:       uuid.New(),
    UserID:   rd.UserID,
    Category: category,
    Title:    question,
  })
  if err != nil {
    cs.log.Warn("Failed to create chat session, Cannot proceed. Returning error.", "error", err)
    return nil, nil, fmt.Errorf("Failed to create chat session: %w", err)
  }
  cs.notifier.SessionUpdated(ctx, rd.UserID, session.ID)

  msgs, mErr := cs.SendUserMessage(ctx, session.ID, question)
  if mErr != nil {
    return session, nil, mErr
  }
  return session, msgs, nil
}

func (cs *chatService) GetUserSessions(ctx context.Context, category string) ([]*types.ChatSession, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    cs.log.Warn("No Request Data found in context, Cannot proceed.")
    return nil, fmt.Errorf("No Request Data found in context.")
  }
  sessions, err := cs.chatSessionRepo.GetUserSessions(ctx, nil, rd.UserID, category)
  if err != nil {
    cs.log.Warn("Failed to list user sessions, Cannot proceed. Returning error.", "error", err)
    return nil, fmt.Errorf("Failed to list user sessions: %w", err)
  }
  return sessions, nil
}

func (cs *chatService) GetSessionMessages(ctx context.Context, sessionID uuid.UUID) ([]*types.ChatMessage, error) {
  session, err := cs.getOwnedSession(ctx, sessionID)
  if err != nil {
    return nil, err
  }
  msgs, mErr := cs.chatMessageRepo.GetBySessionID(ctx, nil, session.ID)
  if mErr != nil {
    cs.log.Warn("Failed to list session messages, Cannot proceed. Returning error.", "error", mErr)
    return nil, fmt.Errorf("Failed to list session messages: %w", mErr)
  }
  return msgs, nil
}

func (cs *chatService) RenameSession(ctx context.Context, sessionID uuid.UUID, title string) (*types.ChatSession, error) {
  session, err := cs.getOwnedSession(ctx, sessionID)
  if err != nil {
    return nil, err
  }
  title = normalization.ParseInputString(title)
  if title == "" {
    return nil, fmt.Errorf("session title cannot be empty")
  }
  if uErr := cs.chatSessionRepo.UpdateTitle(ctx, nil, session.ID, title); uErr != nil {
    cs.log.Warn("Failed to rename session, Cannot proceed. Returning error.", "error", uErr)
    return nil, fmt.Errorf("Failed to rename session: %w", uErr)
  }
  session.Title = title
  cs.notifier.SessionUpdated(ctx, session.UserID, session.ID)
  return session, nil
}

//----------------------------------------------------------------------------------------------------------------------
// SendUserMessage, SendFileMessage
//----------------------------------------------------------------------------------------------------------------------

func (cs *chatService) SendUserMessage(ctx context.Context, sessionID uuid.UUID, question string) ([]*types.ChatMessage, error) {
  session, err := cs.getOwnedSession(ctx, sessionID)
  if err != nil {
    return nil, err
  }
  if normalization.ParseInputString(question) == "" {
    return nil, fmt.Errorf("question cannot be empty")
  }

  unlock := cs.lockSession(session.ID)
  defer unlock()

  var appended []*types.ChatMessage

  //1) Persist the user message first so it survives any generation failure
  userMsg, uErr := cs.appendMessage(ctx, session, &types.ChatMessage{
    Role:     types.MessageRoleUser,
    Kind:     types.MessageKindText,
    Contents: question,
  })
  if uErr != nil {
    return nil, uErr
  }
  appended = append(appended, userMsg)

  //2) Prior turn linkage
  priorRef, pErr := cs.lastGenerationRef(ctx, session.ID)
  if pErr != nil {
    cs.log.Warn("Failed to resolve prior generation ref, continuing without linkage.", "error", pErr)
    priorRef = ""
  }

  //3) Run the generation turn
  result, tErr := cs.runTurn(ctx, session, question, priorRef)
  if tErr != nil {
    if ed := errordata.GetErrorData(ctx); ed != nil && !ed.HasMessage() {
      ed.SetMessage(tErr.Error())
    }
    cs.log.Warn("Generation turn failed, Cannot proceed. Returning error.", "error", tErr)
    return appended, fmt.Errorf("Generation turn failed: %w", tErr)
  }

  //4) Persist items in emission order, all under the turn's generation ref
  for _, item := range result.Items {
    msg, aErr := cs.appendTurnItem(ctx, session, item, result.GenerationRef)
    if aErr != nil {
      cs.log.Warn("Failed to persist turn item, Cannot proceed. Returning error.", "error", aErr)
      return appended, fmt.Errorf("Failed to persist turn item: %w", aErr)
    }
    appended = append(appended, msg)
  }
  return appended, nil
}

func (cs *chatService) SendFileMessage(ctx context.Context, sessionID uuid.UUID, fileName, contentType string, data []byte, note string) ([]*types.ChatMessage, error) {
  session, err := cs.getOwnedSession(ctx, sessionID)
  if err != nil {
    return nil, err
  }
  kind, kErr := SniffUploadKind(fileName, contentType)
  if kErr != nil {
    return nil, kErr
  }
  if len(data) == 0 {
    return nil, fmt.Errorf("uploaded file is empty")
  }
  if len(data) > MaxUploadBytes {
    return nil, fmt.Errorf("uploaded file exceeds the %d byte limit", MaxUploadBytes)
  }

  uploaded, upErr := cs.bucketService.UploadGenerated(ctx, kind, fileName, data, contentType)
  if upErr != nil {
    cs.log.Warn("Failed to upload user file, Cannot proceed. Returning error.", "error", upErr)
    return nil, fmt.Errorf("Failed to upload user file: %w", upErr)
  }

  unlock := cs.lockSession(session.ID)
  defer unlock()

  var appended []*types.ChatMessage
  userMsg, uErr := cs.appendMessage(ctx, session, &types.ChatMessage{
    Role:     types.MessageRoleUser,
    Kind:     kind,
    Contents: note,
    AssetURL: uploaded.AssetURL,
    Meta: types.MessageMeta{
      MimeType:  contentType,
      AssetName: fileName,
      SizeBytes: len(data),
    }.JSON(),
  })
  if uErr != nil {
    return nil, uErr
  }
  appended = append(appended, userMsg)

  question := note
  if normalization.ParseInputString(question) == "" {
    question = fmt.Sprintf("The user shared a file named '%s'. Acknowledge it and ask how you can help with it.", fileName)
  }
  priorRef, pErr := cs.lastGenerationRef(ctx, session.ID)
  if pErr != nil {
    priorRef = ""
  }
  reply, rErr := cs.genaiService.CreateResponse(ctx, question, priorRef)
  if rErr != nil {
    cs.log.Warn("Failed to generate reply for file message, Cannot proceed. Returning error.", "error", rErr)
    return appended, fmt.Errorf("Failed to generate reply for file message: %w", rErr)
  }
  assistantMsg, aErr := cs.appendMessage(ctx, session, &types.ChatMessage{
    Role:          types.MessageRoleAssistant,
    Kind:          types.MessageKindText,
    Contents:      reply.Text,
    GenerationRef: reply.ID,
  })
  if aErr != nil {
    return appended, aErr
  }
  appended = append(appended, assistantMsg)
  return appended, nil
}

//----------------------------------------------------------------------------------------------------------------------
// Turn state machine
//----------------------------------------------------------------------------------------------------------------------

func (cs *chatService) runTurn(ctx context.Context, session *types.ChatSession, question, priorRef string) (types.TurnResult, error) {
  var items []types.TurnItem

  //1) Classify. Failures never reach the image path.
  wantsImage := false
  if session.Category == types.SessionCategoryImage {
    needed, cErr := cs.genaiService.Classify(ctx, question)
    if cErr != nil {
      cs.log.Warn("Classification failed, continuing with text only.", "error", cErr)
    } else {
      wantsImage = needed
    }
  }

  //2) Image path, degrading to text on any failure
  if wantsImage {
    if item, ok := cs.tryGenerateImageItem(ctx, question); ok {
      items = append(items, item)
    }
  }

  //3) Text path
  reply, rErr := cs.genaiService.CreateResponse(ctx, question, priorRef)
  if rErr != nil {
    if len(items) > 0 {
      // The image already exists. Persist it rather than dropping the turn.
      cs.log.Warn("Text reply failed after image generation, emitting image only.", "error", rErr)
      return types.TurnResult{Items: items}, nil
    }
    return types.TurnResult{}, fmt.Errorf("text generation failed: %w", rErr)
  }
  items = append(items, types.TurnItem{Kind: types.MessageKindText, Text: reply.Text})

  //4) Fire-and-forget capture of any document link in the reply
  if link := pdfLinkPattern.FindString(reply.Text); link != "" {
    go cs.captureDocument(session, link, reply.ID)
  }

  return types.TurnResult{Items: items, GenerationRef: reply.ID}, nil
}

// tryGenerateImageItem runs the whole image branch. A false return means the
// caller continues with text only; the user never sees an image-path error.
func (cs *chatService) tryGenerateImageItem(ctx context.Context, question string) (types.TurnItem, bool) {
  prompt, pErr := cs.genaiService.BuildImagePrompt(ctx, question)
  if pErr != nil {
    cs.log.Warn("Failed to build image prompt, degrading to text.", "error", pErr)
    return types.TurnItem{}, false
  }
  image, gErr := cs.genaiService.GenerateImage(ctx, prompt)
  if gErr != nil {
    cs.log.Warn("Image generation failed, degrading to text.", "error", gErr)
    return types.TurnItem{}, false
  }

  var payload []byte
  mimeType := image.MimeType
  if mimeType == "" {
    mimeType = "image/png"
  }
  if image.B64 != "" {
    decoded, dErr := base64.StdEncoding.DecodeString(image.B64)
    if dErr != nil {
      cs.log.Warn("Failed to decode inline image payload, degrading to text.", "error", dErr)
      return types.TurnItem{}, false
    }
    payload = decoded
  } else {
    fetched, fetchedMime, fErr := cs.fetcherService.FetchImage(ctx, image.URL)
    if fErr != nil {
      cs.log.Warn("Failed to capture generated image, degrading to text.", "error", fErr)
      return types.TurnItem{}, false
    }
    payload = fetched
    if fetchedMime != "" {
      mimeType = fetchedMime
    }
  }

  uploaded, upErr := cs.bucketService.UploadGenerated(ctx, types.MessageKindImage, "generated.png", payload, mimeType)
  if upErr != nil {
    // Inline fallback keeps the image reachable when the bucket is down.
    cs.log.Warn("Failed to upload generated image, falling back to inline payload.", "error", upErr)
    inline := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(payload))
    return types.TurnItem{Kind: types.MessageKindImage, ImageURL: inline, MimeType: mimeType}, true
  }
  return types.TurnItem{Kind: types.MessageKindImage, ImageURL: uploaded.AssetURL, MimeType: mimeType}, true
}

// captureDocument downloads a linked pdf and appends it as a follow-up
// assistant message. Runs detached from the request. Failures are logged and
// swallowed so the text reply is never rolled back.
func (cs *chatService) captureDocument(session *types.ChatSession, link, generationRef string) {
  ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
  defer cancel()

  data, mimeType, fErr := cs.fetcherService.FetchDocument(ctx, link)
  if fErr != nil {
    cs.log.Warn("Document capture fetch failed, skipping follow-up message.", "link", link, "error", fErr)
    return
  }
  if mimeType == "" {
    mimeType = "application/pdf"
  }
  uploaded, upErr := cs.bucketService.UploadGenerated(ctx, types.MessageKindDocument, "captured.pdf", data, mimeType)
  if upErr != nil {
    cs.log.Warn("Document capture upload failed, skipping follow-up message.", "link", link, "error", upErr)
    return
  }

  unlock := cs.lockSession(session.ID)
  defer unlock()
  if _, aErr := cs.appendMessage(ctx, session, &types.ChatMessage{
    Role:          types.MessageRoleAssistant,
    Kind:          types.MessageKindDocument,
    Contents:      link,
    AssetURL:      uploaded.AssetURL,
    GenerationRef: generationRef,
    Meta: types.MessageMeta{
      MimeType:  mimeType,
      AssetName: uploaded.AssetName,
      SourceURL: link,
      SizeBytes: len(data),
    }.JSON(),
  }); aErr != nil {
    cs.log.Warn("Document capture append failed, skipping follow-up message.", "link", link, "error", aErr)
  }
}

//----------------------------------------------------------------------------------------------------------------------
// Persistence Helpers
//----------------------------------------------------------------------------------------------------------------------

// appendMessage inserts the row and bumps the session's updated_at in one
// transaction, then notifies after the commit.
func (cs *chatService) appendMessage(ctx context.Context, session *types.ChatSession, msg *types.ChatMessage) (*types.ChatMessage, error) {
  msg.ID = uuid.New()
  msg.SessionID = session.ID
  txErr := cs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
    if _, err := cs.chatMessageRepo.CreateMessages(ctx, tx, []*types.ChatMessage{msg}); err != nil {
      return fmt.Errorf("Failed to create chat message: %w", err)
    }
    if err := cs.chatSessionRepo.TouchUpdatedAt(ctx, tx, session.ID, time.Now()); err != nil {
      return fmt.Errorf("Failed to bump session updated_at: %w", err)
    }
    return nil
  })
  if txErr != nil {
    cs.log.Warn("Append message transaction failed, Cannot proceed. Returning error.", "error", txErr)
    return nil, txErr
  }
  cs.notifier.MessageAppended(ctx, session.UserID, session.ID)
  return msg, nil
}

func (cs *chatService) appendTurnItem(ctx context.Context, session *types.ChatSession, item types.TurnItem, generationRef string) (*types.ChatMessage, error) {
  msg := &types.ChatMessage{
    Role:          types.MessageRoleAssistant,
    GenerationRef: generationRef,
  }
  switch item.Kind {
  case types.MessageKindImage:
    msg.Kind = types.MessageKindImage
    msg.AssetURL = item.ImageURL
    msg.Meta = types.MessageMeta{
      MimeType:  item.MimeType,
      AssetName: "generated.png",
      Inline:    strings.HasPrefix(item.ImageURL, "data:"),
    }.JSON()
  default:
    msg.Kind = types.MessageKindText
    msg.Contents = item.Text
  }
  return cs.appendMessage(ctx, session, msg)
}

// lastGenerationRef finds the most recent assistant message carrying a
// generation ref, which links the next model call to this conversation.
func (cs *chatService) lastGenerationRef(ctx context.Context, sessionID uuid.UUID) (string, error) {
  msgs, err := cs.chatMessageRepo.GetBySessionID(ctx, nil, sessionID)
  if err != nil {
    return "", err
  }
  for i := len(msgs) - 1; i >= 0; i-- {
    if msgs[i].Role == types.MessageRoleAssistant && msgs[i].GenerationRef != "" {
      return msgs[i].GenerationRef, nil
    }
  }
  return "", nil
}

func (cs *chatService) getOwnedSession(ctx context.Context, sessionID uuid.UUID) (*types.ChatSession, error) {
  rd := requestdata.GetRequestData(ctx)
  if rd == nil || rd.UserID == uuid.Nil {
    cs.log.Warn("No Request Data found in context, Cannot proceed.")
    return nil, fmt.Errorf("No Request Data found in context.")
  }
  session, err := cs.chatSessionRepo.GetSessionByID(ctx, nil, sessionID)
  if err != nil {
    cs.log.Warn("Failed to fetch session, Cannot proceed. Returning error.", "error", err)
    return nil, fmt.Errorf("Failed to fetch session: %w", err)
  }
  if session.UserID != rd.UserID {
    cs.log.Warn("Session does not belong to the requesting user, Cannot proceed.", "sessionID", sessionID)
    return nil, fmt.Errorf("session does not belong to the requesting user")
  }
  return session, nil
}

func (cs *chatService) lockSession(sessionID uuid.UUID) func() {
  cs.sessionMu.Lock()
  entry, ok := cs.sessionLock[sessionID]
  if !ok {
    entry = &sessionLockEntry{}
    cs.sessionLock[sessionID] = entry
  }
  entry.refs++
  cs.sessionMu.Unlock()

  entry.mu.Lock()
  return func() {
    entry.mu.Unlock()
    cs.sessionMu.Lock()
    entry.refs--
    if entry.refs == 0 {
      delete(cs.sessionLock, sessionID)
    }
    cs.sessionMu.Unlock()
  }
}
