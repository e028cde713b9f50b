package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"

	"github.com/civicgrid/civic-issues-api/config"
)

// maxUploadBytes caps report attachments at 32 MB.
const maxUploadBytes = 32 << 20

// MediaHandler handles report media uploads via Cloudinary
type MediaHandler struct{}

type mediaUploadResponse struct {
	MediaRef string `json:"mediaRef"`
	URL      string `json:"url"`
}

// UploadHandler accepts a multipart file, pushes it to Cloudinary and
// returns the opaque reference the report stores. The file content is
// never inspected here.
func (m MediaHandler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		config.ErrorStatus("failed to parse multipart form", http.StatusBadRequest, w, err)
		return
	}

	file, _, err := r.FormFile("media")
	if err != nil {
		config.ErrorStatus("missing media file", http.StatusBadRequest, w, err)
		return
	}
	defer file.Close()

	cld, err := cloudinary.NewFromURL(os.Getenv("CLOUDINARY_URL"))
	if err != nil {
		config.ErrorStatus("failed to initialize media store", http.StatusInternalServerError, w, err)
		return
	}

	uploadResp, err := cld.Upload.Upload(r.Context(), file, uploader.UploadParams{
		Folder: "civic-reports",
	})
	if err != nil {
		config.ErrorStatus("failed to upload media", http.StatusBadGateway, w, err)
		return
	}

	resp := mediaUploadResponse{
		MediaRef: uploadResp.PublicID,
		URL:      uploadResp.SecureURL,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

// GenerateSignature generates a signature for client-direct Cloudinary uploads
func (m MediaHandler) GenerateSignature(w http.ResponseWriter, r *http.Request) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	uploadPreset := os.Getenv("CLOUDINARY_UPLOAD_PRESET")
	apiSecret := os.Getenv("CLOUDINARY_API_SECRET")

	// Create the signature
	h := hmac.New(sha1.New, []byte(apiSecret))
	h.Write([]byte("timestamp=" + timestamp + "&upload_preset=" + uploadPreset))
	signature := hex.EncodeToString(h.Sum(nil))

	// Respond with the timestamp and signature
	response := map[string]string{
		"timestamp": timestamp,
		"signature": signature,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
