package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/avvvet/kana-services/internal/studymaterial"
	"github.com/avvvet/kana-services/internal/tournament"
)

const maxUploadBytes = 32 << 20

// DailyQuiz generates practice questions: ?topic=&difficulty=&count=.
func (h *Handler) DailyQuiz(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count := 1
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 15 {
			h.badRequest(w, "count must be between 1 and 15")
			return
		}
		count = n
	}

	quiz, err := h.Quiz.Generate(r.Context(), q.Get("topic"), tournament.Difficulty(q.Get("difficulty")), count)
	if err != nil {
		h.Fail(w, "failed to generate quiz", err)
		return
	}
	h.ok(w, "quiz", quiz)
}

func (h *Handler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	list, err := h.Library.List(r.Context())
	if err != nil {
		h.Fail(w, "failed to list study materials", err)
		return
	}
	h.ok(w, "study materials", list)
}

func (h *Handler) SearchLibrary(w http.ResponseWriter, r *http.Request) {
	papers, err := h.Library.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.Fail(w, "failed to search papers", err)
		return
	}
	h.ok(w, "papers", papers)
}

// UploadMaterial forwards the multipart field "studyMaterial" with the
// optional topic and conversationId fields.
func (h *Handler) UploadMaterial(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.badRequest(w, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("studyMaterial")
	if err != nil {
		h.badRequest(w, "studyMaterial file is required")
		return
	}
	defer file.Close()

	m, err := h.Library.Upload(r.Context(), studymaterial.Upload{
		Filename:       header.Filename,
		Topic:          r.FormValue("topic"),
		ConversationID: r.FormValue("conversationId"),
		Content:        file,
	})
	if err != nil {
		h.Fail(w, "failed to upload study material", err)
		return
	}
	h.CreateResponse(w, Response{Message: "study material uploaded", Code: http.StatusCreated, Data: m})
}

func (h *Handler) SaveExternal(w http.ResponseWriter, r *http.Request) {
	var p studymaterial.Paper
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if p.Title == "" {
		h.badRequest(w, "title is required")
		return
	}

	m, err := h.Library.SaveExternal(r.Context(), p)
	if err != nil {
		h.Fail(w, "failed to save paper", err)
		return
	}
	h.CreateResponse(w, Response{Message: "paper saved", Code: http.StatusCreated, Data: m})
}

func (h *Handler) DeleteMaterial(w http.ResponseWriter, r *http.Request) {
	if err := h.Library.Delete(r.Context(), chi.URLParam(r, "materialID")); err != nil {
		h.Fail(w, "failed to delete study material", err)
		return
	}
	h.ok(w, "study material deleted", nil)
}
