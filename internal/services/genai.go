package services

import (
  "bytes"
  "context"
  "encoding/json"
  "fmt"
  "io"
  "net/http"
  "strings"
  "time"

  "github.com/teachsketch-org/teachsketch-backend/internal/logger"
  "github.com/teachsketch-org/teachsketch-backend/internal/utils"
)

// Instruction sets sent with every generation call. The assistant serves
// teachers preparing materials for young and special-education learners, so
// the image prompt builder bakes in accessibility constraints.
const (
  assistantInstructions = "You are an assistant for teachers preparing learning materials " +
    "for young children and special-education classrooms. Answer in the teacher's language, " +
    "keep explanations short and concrete, and when asked for printable materials include " +
    "a direct link to the document."

  classifyInstructions = "Decide whether the user's request requires generating a picture. " +
    "Answer strictly with the single word yes or no."

  imagePromptInstructions = "Rewrite the user's request as a concise English image-generation " +
    "prompt for a teaching aid. Constraints: simple flat illustration, limited color palette, " +
    "low visual complexity, no text inside the image, friendly and calm style suitable for " +
    "children with special needs. Output only the prompt."
)

type GenAIService interface {
  // Classify reports whether the turn needs an image. Never errors into the
  // image path: on any failure it returns (false, err) and callers continue
  // with text.
  Classify(ctx context.Context, question string) (bool, error)
  BuildImagePrompt(ctx context.Context, question string) (string, error)
  CreateResponse(ctx context.Context, input, previousResponseID string) (ResponseResult, error)
  GenerateImage(ctx context.Context, prompt string) (ImageResult, error)
}

type ResponseResult struct {
  ID    string
  Text  string
}

type ImageResult struct {
  URL      string
  B64      string
  MimeType string
}

type genAIService struct {
  log        *logger.Logger
  client     *http.Client
  baseURL    string
  apiKey     string
  textModel  string
  imageModel string
  imageSize  string
}

func NewGenAIService(log *logger.Logger) (GenAIService, error) {
  serviceLog := log.With("service", "GenAIService")
  baseURL := utils.GetEnv("OPENAI_API_URL", "https://api.openai.com/v1", serviceLog)
  apiKey := utils.GetEnv("OPENAI_API_KEY", "", serviceLog)
  if apiKey == "" {
    serviceLog.Warn("OPENAI_API_KEY not set; generation calls will be unauthorized")
  }
  textModel := utils.GetEnv("OPENAI_TEXT_MODEL", "gpt-4o-mini", serviceLog)
  imageModel := utils.GetEnv("OPENAI_IMAGE_MODEL", "dall-e-3", serviceLog)
  imageSize := utils.GetEnv("OPENAI_IMAGE_SIZE", "1024x1024", serviceLog)
  timeoutSec := utils.GetEnvAsInt("OPENAI_TIMEOUT_SECONDS", 120, serviceLog)

  httpClient := &http.Client{
    Timeout: time.Duration(timeoutSec) * time.Second,
  }
  return &genAIService{
    log:        serviceLog,
    client:     httpClient,
    baseURL:    strings.TrimRight(baseURL, "/"),
    apiKey:     apiKey,
    textModel:  textModel,
    imageModel: imageModel,
    imageSize:  imageSize,
  }, nil
}

type responsesRequest struct {
  Model              string `json:"model"`
  Instructions       string `json:"instructions,omitempty"`
  Input              string `json:"input"`
  PreviousResponseID string `json:"previous_response_id,omitempty"`
}

type responsesReply struct {
  ID     string `json:"id"`
  Output []struct {
    Type    string `json:"type"`
    Content []struct {
      Type string `json:"type"`
      Text string `json:"text"`
    } `json:"content"`
  } `json:"output"`
}

func (gs *genAIService) Classify(ctx context.Context, question string) (bool, error) {
  reply, err := gs.createResponse(ctx, classifyInstructions, question, "")
  if err != nil {
    return false, err
  }
  answer := strings.ToLower(strings.TrimSpace(strings.Trim(reply.Text, ".!")))
  switch answer {
  case "yes":
    return true, nil
  case "no":
    return false, nil
  }
  gs.log.Warn("classifier returned something other than yes/no, treating as no", "answer", reply.Text)
  return false, nil
}

func (gs *genAIService) BuildImagePrompt(ctx context.Context, question string) (string, error) {
  reply, err := gs.createResponse(ctx, imagePromptInstructions, question, "")
  if err != nil {
    return "", err
  }
  prompt := strings.TrimSpace(reply.Text)
  if prompt == "" {
    return "", fmt.Errorf("model returned an empty image prompt")
  }
  return prompt, nil
}

func (gs *genAIService) CreateResponse(ctx context.Context, input, previousResponseID string) (ResponseResult, error) {
  return gs.createResponse(ctx, assistantInstructions, input, previousResponseID)
}

func (gs *genAIService) createResponse(ctx context.Context, instructions, input, previousResponseID string) (ResponseResult, error) {
  var out ResponseResult

  body := responsesRequest{
    Model:              gs.textModel,
    Instructions:       instructions,
    Input:              input,
    PreviousResponseID: previousResponseID,
  }
  raw, err := gs.post(ctx, "/responses", body)
  if err != nil {
    return out, err
  }
  var reply responsesReply
  if err := json.Unmarshal(raw, &reply); err != nil {
    gs.log.Warn("failed to decode responses reply", "error", err)
    return out, fmt.Errorf("failed to decode responses reply: %w", err)
  }
  out.ID = reply.ID
  for _, o := range reply.Output {
    if o.Type != "message" {
      continue
    }
    for _, c := range o.Content {
      if c.Type == "output_text" {
        out.Text += c.Text
      }
    }
  }
  if out.Text == "" {
    return out, fmt.Errorf("responses reply carried no output text")
  }
  return out, nil
}

type imageRequest struct {
  Model          string `json:"model"`
  Prompt         string `json:"prompt"`
  Size           string `json:"size"`
  N              int    `json:"n"`
  ResponseFormat string `json:"response_format,omitempty"`
}

type imageReply struct {
  Data []struct {
    URL     string `json:"url"`
    B64JSON string `json:"b64_json"`
  } `json:"data"`
}

func (gs *genAIService) GenerateImage(ctx context.Context, prompt string) (ImageResult, error) {
  var out ImageResult

  body := imageRequest{
    Model:  gs.imageModel,
    Prompt: prompt,
    Size:   gs.imageSize,
    N:      1,
  }
  raw, err := gs.post(ctx, "/images/generations", body)
  if err != nil {
    return out, err
  }
  var reply imageReply
  if err := json.Unmarshal(raw, &reply); err != nil {
    gs.log.Warn("failed to decode image reply", "error", err)
    return out, fmt.Errorf("failed to decode image reply: %w", err)
  }
  if len(reply.Data) == 0 {
    return out, fmt.Errorf("image reply carried no data")
  }
  out.URL = reply.Data[0].URL
  out.B64 = reply.Data[0].B64JSON
  out.MimeType = "image/png"
  if out.URL == "" && out.B64 == "" {
    return out, fmt.Errorf("image reply carried neither url nor inline payload")
  }
  return out, nil
}

func (gs *genAIService) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
  raw, err := json.Marshal(body)
  if err != nil {
    return nil, err
  }
  req, err := http.NewRequestWithContext(ctx, http.MethodPost, gs.baseURL+path, bytes.NewReader(raw))
  if err != nil {
    gs.log.Warn("failed to build generation request", "error", err)
    return nil, err
  }
  req.Header.Set("Content-Type", "application/json")
  if gs.apiKey != "" {
    req.Header.Set("Authorization", "Bearer "+gs.apiKey)
  }
  resp, err := gs.client.Do(req)
  if err != nil {
    gs.log.Warn("generation api call failed", "path", path, "error", err)
    return nil, err
  }
  defer resp.Body.Close()

  respBytes, err := io.ReadAll(resp.Body)
  if err != nil {
    gs.log.Warn("failed to read generation api response body", "error", err)
    return nil, err
  }
  if resp.StatusCode < 200 || resp.StatusCode > 299 {
    gs.log.Warn("generation api responded with non-2xx", "path", path, "statusCode", resp.StatusCode, "body", string(respBytes))
    return nil, fmt.Errorf("generation api HTTP %d: %s", resp.StatusCode, string(respBytes))
  }
  return respBytes, nil
}
