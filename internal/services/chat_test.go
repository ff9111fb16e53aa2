package services

import (
  "context"
  "encoding/base64"
  "fmt"
  "io"
  "strings"
  "sync/atomic"
  "testing"
  "time"

  "github.com/google/uuid"
  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"
  "gorm.io/gorm"

  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

//----------------------------------------------------------------------------------------
// Fakes
//----------------------------------------------------------------------------------------

type fakeGenAI struct {
  classifyAnswer bool
  classifyErr    error
  classifyCalls  int32
  promptErr      error
  imageResult    ImageResult
  imageErr       error
  imageCalls     int32
  responseResult ResponseResult
  responseErr    error
  lastPriorRef   string
}

func (f *fakeGenAI) Classify(ctx context.Context, question string) (bool, error) {
  atomic.AddInt32(&f.classifyCalls, 1)
  return f.classifyAnswer, f.classifyErr
}

func (f *fakeGenAI) BuildImagePrompt(ctx context.Context, question string) (string, error) {
  if f.promptErr != nil {
    return "", f.promptErr
  }
  return "an accessible flat illustration of: " + question, nil
}

func (f *fakeGenAI) CreateResponse(ctx context.Context, input, previousResponseID string) (ResponseResult, error) {
  f.lastPriorRef = previousResponseID
  return f.responseResult, f.responseErr
}

func (f *fakeGenAI) GenerateImage(ctx context.Context, prompt string) (ImageResult, error) {
  atomic.AddInt32(&f.imageCalls, 1)
  return f.imageResult, f.imageErr
}

type fakeFetcher struct {
  imageData    []byte
  imageMime    string
  imageErr     error
  documentErr  error
  documentURLs chan string
}

func (f *fakeFetcher) FetchImage(ctx context.Context, url string) ([]byte, string, error) {
  return f.imageData, f.imageMime, f.imageErr
}

func (f *fakeFetcher) FetchDocument(ctx context.Context, url string) ([]byte, string, error) {
  if f.documentURLs != nil {
    f.documentURLs <- url
  }
  return nil, "", f.documentErr
}

type fakeBucket struct {
  uploadErr error
  uploads   int32
}

func (f *fakeBucket) UploadFile(ctx context.Context, key, contentType string, r io.Reader) error {
  return f.uploadErr
}

func (f *fakeBucket) UploadGenerated(ctx context.Context, kind, name string, data []byte, contentType string) (UploadResult, error) {
  atomic.AddInt32(&f.uploads, 1)
  if f.uploadErr != nil {
    return UploadResult{}, f.uploadErr
  }
  return UploadResult{
    AssetURL:    "https://storage.googleapis.com/teachsketch/generated/imgs/1_" + name,
    AssetName:   "1_" + name,
    StoragePath: "generated/imgs/1_" + name,
  }, nil
}

func (f *fakeBucket) GetPublicURL(key string) string {
  return "https://storage.googleapis.com/teachsketch/" + key
}

type fakeMessageRepo struct {
  messages []*types.ChatMessage
}

func (f *fakeMessageRepo) CreateMessages(ctx context.Context, tx *gorm.DB, msgs []*types.ChatMessage) ([]*types.ChatMessage, error) {
  f.messages = append(f.messages, msgs...)
  return msgs, nil
}

func (f *fakeMessageRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.ChatMessage, error) {
  return f.messages, nil
}

func newTestChatService(t *testing.T, genai *fakeGenAI, fetcher *fakeFetcher, bucket *fakeBucket) *chatService {
  t.Helper()
  return &chatService{
    log:             newTestLogger(t).With("service", "ChatService"),
    chatMessageRepo: &fakeMessageRepo{},
    genaiService:    genai,
    fetcherService:  fetcher,
    bucketService:   bucket,
    notifier:        NopNotifier{},
    sessionLock:     make(map[uuid.UUID]*sessionLockEntry),
  }
}

func imageSession() *types.ChatSession {
  return &types.ChatSession{ID: uuid.New(), UserID: uuid.New(), Category: types.SessionCategoryImage}
}

//----------------------------------------------------------------------------------------
// runTurn
//----------------------------------------------------------------------------------------

func TestRunTurn_ImageThenText(t *testing.T) {
  genai := &fakeGenAI{
    classifyAnswer: true,
    imageResult:    ImageResult{URL: "https://oaidalleapiprodscus.blob.core.windows.net/img.png", MimeType: "image/png"},
    responseResult: ResponseResult{ID: "resp_1", Text: "Here is a dog."},
  }
  fetcher := &fakeFetcher{imageData: []byte("png-bytes"), imageMime: "image/png"}
  bucket := &fakeBucket{}

  cs := newTestChatService(t, genai, fetcher, bucket)
  result, err := cs.runTurn(context.Background(), imageSession(), "draw a dog", "")
  require.NoError(t, err)

  require.Len(t, result.Items, 2)
  assert.Equal(t, types.MessageKindImage, result.Items[0].Kind)
  assert.True(t, strings.HasPrefix(result.Items[0].ImageURL, "https://storage.googleapis.com/"))
  assert.Equal(t, types.MessageKindText, result.Items[1].Kind)
  assert.Equal(t, "Here is a dog.", result.Items[1].Text)
  assert.Equal(t, "resp_1", result.GenerationRef)
}

func TestRunTurn_ClassifierNoSkipsImagePath(t *testing.T) {
  genai := &fakeGenAI{
    classifyAnswer: false,
    responseResult: ResponseResult{ID: "resp_2", Text: "Just words."},
  }
  cs := newTestChatService(t, genai, &fakeFetcher{}, &fakeBucket{})

  result, err := cs.runTurn(context.Background(), imageSession(), "what is a dog", "")
  require.NoError(t, err)
  require.Len(t, result.Items, 1)
  assert.Equal(t, types.MessageKindText, result.Items[0].Kind)
  assert.Zero(t, atomic.LoadInt32(&genai.imageCalls))
}

func TestRunTurn_ClassifierErrorDefaultsToText(t *testing.T) {
  genai := &fakeGenAI{
    classifyErr:    fmt.Errorf("model unavailable"),
    responseResult: ResponseResult{ID: "resp_3", Text: "Still works."},
  }
  cs := newTestChatService(t, genai, &fakeFetcher{}, &fakeBucket{})

  result, err := cs.runTurn(context.Background(), imageSession(), "draw a dog", "")
  require.NoError(t, err)
  require.Len(t, result.Items, 1)
  assert.Equal(t, types.MessageKindText, result.Items[0].Kind)
  assert.Zero(t, atomic.LoadInt32(&genai.imageCalls))
}

func TestRunTurn_DocumentSessionNeverClassifies(t *testing.T) {
  genai := &fakeGenAI{
    classifyAnswer: true,
    responseResult: ResponseResult{ID: "resp_4", Text: "A worksheet outline."},
  }
  cs := newTestChatService(t, genai, &fakeFetcher{}, &fakeBucket{})
  session := &types.ChatSession{ID: uuid.New(), UserID: uuid.New(), Category: types.SessionCategoryDocument}

  result, err := cs.runTurn(context.Background(), session, "make a worksheet", "")
  require.NoError(t, err)
  require.Len(t, result.Items, 1)
  assert.Zero(t, atomic.LoadInt32(&genai.classifyCalls))
}

func TestRunTurn_ImageGenerationFailureDegradesToText(t *testing.T) {
  genai := &fakeGenAI{
    classifyAnswer: true,
    imageErr:       fmt.Errorf("image api down"),
    responseResult: ResponseResult{ID: "resp_5", Text: "Text instead."},
  }
  cs := newTestChatService(t, genai, &fakeFetcher{}, &fakeBucket{})

  result, err := cs.runTurn(context.Background(), imageSession(), "draw a dog", "")
  require.NoError(t, err, "image path failures must not surface to the user")
  require.Len(t, result.Items, 1)
  assert.Equal(t, types.MessageKindText, result.Items[0].Kind)
}

func TestRunTurn_FetchFailureDegradesToText(t *testing.T) {
  genai := &fakeGenAI{
    classifyAnswer: true,
    imageResult:    ImageResult{URL: "https://oaidalleapiprodscus.blob.core.windows.net/img.png"},
    responseResult: ResponseResult{ID: "resp_6", Text: "Text instead."},
  }
  fetcher := &fakeFetcher{imageErr: fmt.Errorf("image fetch failed: proxy: 503; direct: 404")}
  bucket := &fakeBucket{}
  cs := newTestChatService(t, genai, fetcher, bucket)

  result, err := cs.runTurn(context.Background(), imageSession(), "draw a dog", "")
  require.NoError(t, err)
  require.Len(t, result.Items, 1)
  assert.Equal(t, types.MessageKindText, result.Items[0].Kind)
  assert.Zero(t, atomic.LoadInt32(&bucket.uploads))
}

func TestRunTurn_UploadFailureFallsBackToInlinePayload(t *testing.T) {
  payload := []byte("png-bytes")
  genai := &fakeGenAI{
    classifyAnswer: true,
    imageResult:    ImageResult{URL: "https://oaidalleapiprodscus.blob.core.windows.net/img.png"},
    responseResult: ResponseResult{ID: "resp_7", Text: "Here you go."},
  }
  fetcher := &fakeFetcher{imageData: payload, imageMime: "image/png"}
  bucket := &fakeBucket{uploadErr: fmt.Errorf("bucket unavailable")}
  cs := newTestChatService(t, genai, fetcher, bucket)

  result, err := cs.runTurn(context.Background(), imageSession(), "draw a dog", "")
  require.NoError(t, err)
  require.Len(t, result.Items, 2)

  imageItem := result.Items[0]
  assert.Equal(t, types.MessageKindImage, imageItem.Kind)
  expected := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)
  assert.Equal(t, expected, imageItem.ImageURL, "a failed upload keeps the image as an inline data URI")
}

func TestRunTurn_InlineImagePayloadSkipsFetcher(t *testing.T) {
  payload := []byte("png-bytes")
  genai := &fakeGenAI{
    classifyAnswer: true,
    imageResult:    ImageResult{B64: base64.StdEncoding.EncodeToString(payload)},
    responseResult: ResponseResult{ID: "resp_8", Text: "Done."},
  }
  fetcher := &fakeFetcher{imageErr: fmt.Errorf("fetcher must not be called")}
  bucket := &fakeBucket{}
  cs := newTestChatService(t, genai, fetcher, bucket)

  result, err := cs.runTurn(context.Background(), imageSession(), "draw a dog", "")
  require.NoError(t, err)
  require.Len(t, result.Items, 2)
  assert.Equal(t, types.MessageKindImage, result.Items[0].Kind)
}

func TestRunTurn_TextFailureAfterImageKeepsImage(t *testing.T) {
  genai := &fakeGenAI{
    classifyAnswer: true,
    imageResult:    ImageResult{URL: "https://oaidalleapiprodscus.blob.core.windows.net/img.png"},
    responseErr:    fmt.Errorf("responses api down"),
  }
  fetcher := &fakeFetcher{imageData: []byte("png-bytes"), imageMime: "image/png"}
  cs := newTestChatService(t, genai, fetcher, &fakeBucket{})

  result, err := cs.runTurn(context.Background(), imageSession(), "draw a dog", "")
  require.NoError(t, err)
  require.Len(t, result.Items, 1)
  assert.Equal(t, types.MessageKindImage, result.Items[0].Kind)
  assert.Empty(t, result.GenerationRef)
}

func TestRunTurn_TextFailureWithoutImageErrors(t *testing.T) {
  genai := &fakeGenAI{responseErr: fmt.Errorf("responses api down")}
  cs := newTestChatService(t, genai, &fakeFetcher{}, &fakeBucket{})
  session := &types.ChatSession{ID: uuid.New(), UserID: uuid.New(), Category: types.SessionCategoryDocument}

  _, err := cs.runTurn(context.Background(), session, "make a worksheet", "")
  require.Error(t, err)
}

func TestRunTurn_SchedulesDocumentCapture(t *testing.T) {
  genai := &fakeGenAI{
    responseResult: ResponseResult{ID: "resp_9", Text: "Printable version: https://example.com/materials/worksheet.pdf enjoy!"},
  }
  fetcher := &fakeFetcher{
    documentURLs: make(chan string, 1),
    documentErr:  fmt.Errorf("capture fails quietly"),
  }
  cs := newTestChatService(t, genai, fetcher, &fakeBucket{})
  session := &types.ChatSession{ID: uuid.New(), UserID: uuid.New(), Category: types.SessionCategoryDocument}

  result, err := cs.runTurn(context.Background(), session, "make a worksheet", "")
  require.NoError(t, err, "capture failures never roll back the text reply")
  require.Len(t, result.Items, 1)

  select {
  case link := <-fetcher.documentURLs:
    assert.Equal(t, "https://example.com/materials/worksheet.pdf", link)
  case <-time.After(2 * time.Second):
    t.Fatal("document capture was never scheduled")
  }
}

func TestRunTurn_PassesPriorGenerationRef(t *testing.T) {
  genai := &fakeGenAI{responseResult: ResponseResult{ID: "resp_10", Text: "Continuing."}}
  cs := newTestChatService(t, genai, &fakeFetcher{}, &fakeBucket{})
  session := &types.ChatSession{ID: uuid.New(), UserID: uuid.New(), Category: types.SessionCategoryDocument}

  _, err := cs.runTurn(context.Background(), session, "and another one", "resp_prior")
  require.NoError(t, err)
  assert.Equal(t, "resp_prior", genai.lastPriorRef)
}

//----------------------------------------------------------------------------------------
// Helpers
//----------------------------------------------------------------------------------------

func TestPDFLinkPattern(t *testing.T) {
  assert.Equal(t, "https://example.com/a.pdf", pdfLinkPattern.FindString("see https://example.com/a.pdf for more"))
  assert.Equal(t, "", pdfLinkPattern.FindString("no links here"))
  assert.Equal(t, "", pdfLinkPattern.FindString("https://example.com/a.png"))
}

func TestLastGenerationRef(t *testing.T) {
  repo := &fakeMessageRepo{messages: []*types.ChatMessage{
    {Role: types.MessageRoleUser, Kind: types.MessageKindText},
    {Role: types.MessageRoleAssistant, Kind: types.MessageKindText, GenerationRef: "resp_old"},
    {Role: types.MessageRoleAssistant, Kind: types.MessageKindImage, GenerationRef: "resp_new"},
    {Role: types.MessageRoleUser, Kind: types.MessageKindText},
  }}
  cs := newTestChatService(t, &fakeGenAI{}, &fakeFetcher{}, &fakeBucket{})
  cs.chatMessageRepo = repo

  ref, err := cs.lastGenerationRef(context.Background(), uuid.New())
  require.NoError(t, err)
  assert.Equal(t, "resp_new", ref)
}
