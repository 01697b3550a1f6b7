package studymaterial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/avvvet/kana-services/internal/transport"
)

var ErrQueryRequired = errors.New("search query is required")

type Metadata struct {
	Title    string   `json:"title,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Year     int      `json:"year,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	Abstract string   `json:"abstract,omitempty"`
	Source   string   `json:"source,omitempty"`
}

type Material struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"originalFilename"`
	StoredFilename   string    `json:"storedFilename"`
	Mimetype         string    `json:"mimetype"`
	Topic            string    `json:"topic"`
	UploadTimestamp  string    `json:"uploadTimestamp"`
	Size             int64     `json:"size"`
	Metadata         *Metadata `json:"metadata,omitempty"`
}

// Paper is one academic search hit.
type Paper struct {
	CoreID      string   `json:"coreId"`
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Abstract    string   `json:"abstract"`
	Year        int      `json:"year"`
	DownloadURL string   `json:"downloadUrl,omitempty"`
	DOI         string   `json:"doi"`
	Publisher   string   `json:"publisher"`
}

type Upload struct {
	Filename       string
	Topic          string
	ConversationID string
	Content        io.Reader
}

type Client struct {
	root      string
	requester *transport.Requester
}

func NewClient(root string, requester *transport.Requester) *Client {
	return &Client{root: strings.TrimRight(root, "/"), requester: requester}
}

func (c *Client) List(ctx context.Context) ([]Material, error) {
	var out []Material
	if err := c.get(ctx, "materials.list", "/api/study-materials", "list study materials", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Search(ctx context.Context, query string) ([]Paper, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrQueryRequired
	}
	var out []Paper
	if err := c.get(ctx, "materials.search", "/api/core-search?q="+url.QueryEscape(query), "search papers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Upload sends a file as multipart form field "studyMaterial". The content is
// buffered so a retried attempt can resend it.
func (c *Client) Upload(ctx context.Context, up Upload) (*Material, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("studyMaterial", up.Filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return nil, err
	}
	if up.Topic != "" {
		if err := mw.WriteField("topic", up.Topic); err != nil {
			return nil, err
		}
	}
	if up.ConversationID != "" {
		if err := mw.WriteField("conversationId", up.ConversationID); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := c.requester.Do(ctx, transport.Request{
		Operation:   "materials.upload",
		Method:      http.MethodPost,
		URL:         c.root + "/api/upload-study-material",
		RawBody:     buf.Bytes(),
		ContentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	if err := transport.CheckStatus(resp, "upload study material"); err != nil {
		return nil, err
	}

	var out struct {
		File Material `json:"file"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out.File, nil
}

// SaveExternal asks the backend to download a paper into the library.
func (c *Client) SaveExternal(ctx context.Context, p Paper) (*Material, error) {
	body := map[string]any{
		"title":       p.Title,
		"authors":     p.Authors,
		"year":        p.Year,
		"doi":         p.DOI,
		"downloadUrl": p.DownloadURL,
		"abstract":    p.Abstract,
	}
	resp, err := c.requester.Do(ctx, transport.Request{
		Operation: "materials.save_external",
		Method:    http.MethodPost,
		URL:       c.root + "/api/save-external-item",
		Body:      body,
	})
	if err != nil {
		return nil, err
	}
	if err := transport.CheckStatus(resp, "save external item"); err != nil {
		return nil, err
	}

	var out struct {
		File Material `json:"file"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out.File, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.requester.Do(ctx, transport.Request{
		Operation: "materials.delete",
		Method:    http.MethodDelete,
		URL:       c.root + "/api/study-materials/" + url.PathEscape(id),
	})
	if err != nil {
		return err
	}
	return transport.CheckStatus(resp, "delete study material")
}

func (c *Client) get(ctx context.Context, op, path, what string, out any) error {
	resp, err := c.requester.Do(ctx, transport.Request{
		Operation: op,
		Method:    http.MethodGet,
		URL:       c.root + path,
	})
	if err != nil {
		return err
	}
	if err := transport.CheckStatus(resp, what); err != nil {
		return err
	}
	return resp.Decode(out)
}
