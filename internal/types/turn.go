package types

// TurnItem is one unit of assistant output from a single generation turn,
// in the order the upstream API emitted it.
type TurnItem struct {
  Kind        string      `json:"kind"`                  // MessageKindText or MessageKindImage
  Text        string      `json:"text,omitempty"`
  ImageURL    string      `json:"imageURL,omitempty"`    // remotely hosted generation output
  ImageB64    string      `json:"imageB64,omitempty"`    // inline payload when the API returns bytes directly
  MimeType    string      `json:"mimeType,omitempty"`
}

// TurnResult is everything a generation turn produced. GenerationRef links
// every persisted assistant message back to the upstream call and is handed
// to the next turn for multi-turn continuity.
type TurnResult struct {
  Items           []TurnItem    `json:"items"`
  GenerationRef   string        `json:"generationRef"`
}
