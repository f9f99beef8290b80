// Package archive uploads the finished conversation log to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/supabase-community/supabase-go"

	"github.com/talentloop/interviewd/internal/interview"
)

// SupabaseArchive stores one JSON document per session in a storage bucket.
type SupabaseArchive struct {
	client *supabase.Client
	bucket string
}

// New constructs the archive client.
func New(projectURL, serviceKey, bucket string) (*SupabaseArchive, error) {
	client, err := supabase.NewClient(projectURL, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("supabase client: %w", err)
	}
	return &SupabaseArchive{client: client, bucket: bucket}, nil
}

type archivedConversation struct {
	SessionID  string              `json:"session_id"`
	ArchivedAt time.Time           `json:"archived_at"`
	Messages   []interview.Message `json:"messages"`
}

// ArchiveConversation uploads the ordered conversation log. Callers invoke
// it detached; failures matter only to the logs.
func (a *SupabaseArchive) ArchiveConversation(_ context.Context, sessionID string, history []interview.Message) error {
	doc := archivedConversation{
		SessionID:  sessionID,
		ArchivedAt: time.Now().UTC(),
		Messages:   history,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	key := fmt.Sprintf("%s/conversation.json", sessionID)
	if _, err := a.client.Storage.UploadFile(a.bucket, key, bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("upload conversation: %w", err)
	}
	logrus.WithFields(logrus.Fields{"session": sessionID, "messages": len(history)}).
		Info("conversation archived")
	return nil
}
