// Package har imports HAR files recorded by browser devtools and replays
// them through the recorder as an offline capture session.
package har

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/yourorg/tracegen/internal/recorder"
	"github.com/yourorg/tracegen/pkg/types"
)

type harFile struct {
	Log struct {
		Entries []Entry `json:"entries"`
	} `json:"log"`
}

// Entry is one HAR request/response pair.
type Entry struct {
	StartedDateTime string `json:"startedDateTime"`
	Request         struct {
		Method  string `json:"method"`
		URL     string `json:"url"`
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		PostData struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
			Encoding string `json:"encoding"`
		} `json:"postData"`
	} `json:"request"`
	Response struct {
		Status  int `json:"status"`
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Content struct {
			MimeType string `json:"mimeType"`
			Text     string `json:"text"`
			Encoding string `json:"encoding"`
		} `json:"content"`
	} `json:"response"`
}

// Parse reads the entries of a HAR file.
func Parse(filePath string) ([]Entry, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var hf harFile
	if err := json.Unmarshal(data, &hf); err != nil {
		return nil, fmt.Errorf("parse har: %w", err)
	}
	return hf.Log.Entries, nil
}

// Replay runs a HAR file through the recorder as one capture session,
// returning the synthesis result. Each entry carries a synthetic request id
// so correlation is exact regardless of duplicate URLs.
func Replay(rec *recorder.Recorder, filePath, name string) (*types.StopResult, error) {
	entries, err := Parse(filePath)
	if err != nil {
		return nil, err
	}
	if err := rec.Start(name); err != nil {
		return nil, err
	}
	for i, e := range entries {
		reqID := fmt.Sprintf("har-%d", i)
		rec.OnRequest(recorder.RequestEvent{
			RequestID: reqID,
			Method:    e.Request.Method,
			URL:       e.Request.URL,
			Headers:   headerMap(e.Request.Headers),
			Body:      decodeBody(e.Request.PostData.Text, e.Request.PostData.Encoding, e.Request.PostData.MimeType),
		})
		if e.Response.Status > 0 {
			rec.OnResponse(recorder.ResponseEvent{
				RequestID: reqID,
				URL:       e.Request.URL,
				Status:    e.Response.Status,
				Headers:   headerMap(e.Response.Headers),
				Body:      decodeBody(e.Response.Content.Text, e.Response.Content.Encoding, e.Response.Content.MimeType),
			})
		}
	}
	return rec.Stop()
}

func headerMap(headers []struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		if strings.HasPrefix(h.Name, ":") {
			continue // HTTP/2 pseudo headers
		}
		out[h.Name] = h.Value
	}
	return out
}

func decodeBody(text, encoding, mimeType string) string {
	if text == "" || isBinaryContentType(mimeType) {
		return ""
	}
	if strings.EqualFold(encoding, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(text)
		if err != nil {
			return ""
		}
		return string(decoded)
	}
	return text
}

func isBinaryContentType(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "audio/") ||
		strings.HasPrefix(mt, "video/") || mt == "application/octet-stream"
}
