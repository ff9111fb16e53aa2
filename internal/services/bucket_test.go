package services

import (
  "testing"
  "time"

  "github.com/stretchr/testify/assert"
  "github.com/stretchr/testify/require"

  "github.com/teachsketch-org/teachsketch-backend/internal/types"
)

func TestGeneratedObjectKey(t *testing.T) {
  at := time.UnixMilli(1700000000123)

  t.Run("image", func(t *testing.T) {
    key, name, err := GeneratedObjectKey(types.MessageKindImage, "dog.png", at)
    require.NoError(t, err)
    assert.Equal(t, "generated/imgs/1700000000123_dog.png", key)
    assert.Equal(t, "1700000000123_dog.png", name)
  })

  t.Run("document", func(t *testing.T) {
    key, name, err := GeneratedObjectKey(types.MessageKindDocument, "worksheet.pdf", at)
    require.NoError(t, err)
    assert.Equal(t, "generated/docs/1700000000123_worksheet.pdf", key)
    assert.Equal(t, "1700000000123_worksheet.pdf", name)
  })

  t.Run("unsupported kind", func(t *testing.T) {
    _, _, err := GeneratedObjectKey(types.MessageKindText, "note.txt", at)
    require.Error(t, err)
  })
}

func TestSniffUploadKind(t *testing.T) {
  cases := []struct {
    name        string
    fileName    string
    contentType string
    want        string
    wantErr     bool
  }{
    {"pdf by content type", "notes", "application/pdf", types.MessageKindDocument, false},
    {"pdf by extension", "worksheet.PDF", "", types.MessageKindDocument, false},
    {"png by content type", "pic", "image/png", types.MessageKindImage, false},
    {"png by extension", "pic.png", "application/octet-stream", types.MessageKindImage, false},
    {"jpeg content type", "pic.jpg", "image/jpeg", types.MessageKindImage, false},
    {"unsupported", "script.exe", "application/octet-stream", "", true},
  }
  for _, tc := range cases {
    t.Run(tc.name, func(t *testing.T) {
      got, err := SniffUploadKind(tc.fileName, tc.contentType)
      if tc.wantErr {
        require.Error(t, err)
        return
      }
      require.NoError(t, err)
      assert.Equal(t, tc.want, got)
    })
  }
}
