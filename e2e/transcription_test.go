package e2e

import (
	"bytes"
	"encoding/binary"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"

	"github.com/google/uuid"
)

// wavPayload builds a minimal valid PCM WAV of the given duration at 8kHz
// mono, 8-bit.
func wavPayload(t *testing.T, seconds int) []byte {
	t.Helper()

	const sampleRate = 8000
	samples := make([]byte, seconds*sampleRate)
	for i := range samples {
		samples[i] = byte(128 + 64*((i/20)%2))
	}

	var fmtChunk bytes.Buffer
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(1))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(1))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(1))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(8))

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+8+fmtChunk.Len()+8+len(samples)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(fmtChunk.Len()))
	buf.Write(fmtChunk.Bytes())
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(samples)))
	buf.Write(samples)

	return buf.Bytes()
}

// createUploadRequest builds a multipart/form-data upload request.
func createUploadRequest(t *testing.T, token, filename string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	partHeader.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write(content)
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/transcription/upload", &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req
}

func TestUpload_NoAuth(t *testing.T) {
	ta := setupApp(t)

	req := createUploadRequest(t, "", "take.wav", wavPayload(t, 6))
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestUpload_MissingFile(t *testing.T) {
	ta := setupApp(t)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	writer.Close()

	req, _ := http.NewRequest(http.MethodPost, "/api/transcription/upload", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))

	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestUpload_UnsupportedFormat(t *testing.T) {
	ta := setupApp(t)

	req := createUploadRequest(t, generateToken(t), "take.ogg", []byte("not really audio"))
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)

	result := parseJSON(t, resp)
	if errObj, ok := result["error"].(map[string]interface{}); !ok || errObj["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", result)
	}
}

func TestUpload_Success(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	req := createUploadRequest(t, generateToken(t), "take.wav", wavPayload(t, 6))
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected jobId in response")
	}
	if result["status"] == nil {
		t.Error("expected status in response")
	}
}

func TestStatus_InvalidJobID(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/transcription/status/not-a-uuid", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusBadRequest)
}

func TestStatus_UnknownJob(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/transcription/status/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusNotFound)
}

func TestStatus_AfterUpload(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	req := createUploadRequest(t, generateToken(t), "take.wav", wavPayload(t, 6))
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	jobID := parseJSON(t, resp)["jobId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/transcription/status/"+jobID, "")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["jobId"] != jobID {
		t.Errorf("status for wrong job: %v", result["jobId"])
	}
	if result["filename"] != "take.wav" {
		t.Errorf("filename = %v", result["filename"])
	}
	// No worker is running in this test, so the job must not be completed.
	if result["status"] == "completed" {
		t.Error("job cannot complete without a worker")
	}
}

func TestResult_BeforeCompletion(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	req := createUploadRequest(t, generateToken(t), "take.wav", wavPayload(t, 6))
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	jobID := parseJSON(t, resp)["jobId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/transcription/result/"+jobID, "")
	if err != nil {
		t.Fatalf("result request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["exports"] != nil {
		t.Error("incomplete job must not expose exports")
	}
	if result["result"] != nil {
		t.Error("incomplete job must not expose a result summary")
	}
}

func TestDelete_Job(t *testing.T) {
	requireRedis(t)
	ta := setupApp(t)

	req := createUploadRequest(t, generateToken(t), "take.wav", wavPayload(t, 6))
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	jobID := parseJSON(t, resp)["jobId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodDelete, "/api/transcription/"+jobID, "")
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	// Record is gone.
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/transcription/status/"+jobID, "")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
}
