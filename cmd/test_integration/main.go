// Manual smoke test against a running server instance. Exercises the health,
// upload, check-exist and cache endpoints end to end.
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

const baseURL = "http://localhost:3001"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	// Give a freshly started server a moment.
	time.Sleep(2 * time.Second)

	fmt.Println("Starting smoke test...")
	passed := true

	// 1. Health
	fmt.Println("1. Health check...")
	passed = expectOK(http.MethodGet, "/api/health", nil, "") && passed

	// 2. Upload a small payload
	fmt.Println("2. Upload...")
	content := []byte(fmt.Sprintf("smoke-test-payload-%d", time.Now().UnixNano()))
	uploadData, uploadOK := upload("smoke.mp4", content)
	passed = uploadOK && passed

	// 3. Check-exist must resolve to the uploaded path
	fmt.Println("3. Check-exist...")
	sum := sha256.Sum256(content)
	body := map[string]interface{}{
		"hash": hex.EncodeToString(sum[:]),
		"size": len(content),
	}
	passed = expectOK(http.MethodPost, "/api/ti2v/check-exist", body, `"exists":true`) && passed
	if uploadOK {
		fmt.Printf("   uploaded path: %s\n", uploadData)
	}

	// 4. Cache stats
	fmt.Println("4. Cache stats...")
	passed = expectOK(http.MethodGet, "/api/cache/stats", nil, `"initialized":true`) && passed

	if !passed {
		fmt.Println("SMOKE TEST FAILED")
		os.Exit(1)
	}
	fmt.Println("SMOKE TEST PASSED")
}

func expectOK(method, path string, body interface{}, mustContain string) bool {
	env, raw, err := send(method, path, body)
	if err != nil {
		fmt.Printf("   FAILED: %s %s: %v\n", method, path, err)
		return false
	}
	if env.Code != 0 {
		fmt.Printf("   FAILED: %s %s: code %d (%s)\n", method, path, env.Code, env.Message)
		return false
	}
	if mustContain != "" && !bytes.Contains(raw, []byte(mustContain)) {
		fmt.Printf("   FAILED: %s %s: response missing %q\n", method, path, mustContain)
		return false
	}
	return true
}

func send(method, path string, body interface{}) (*envelope, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, raw, fmt.Errorf("non-JSON response: %.200s", string(raw))
	}
	return &env, raw, nil
}

func upload(name string, content []byte) (string, bool) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", false
	}
	if _, err := fw.Write(content); err != nil {
		return "", false
	}
	if err := mw.Close(); err != nil {
		return "", false
	}

	resp, err := http.Post(baseURL+"/api/ti2v/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		fmt.Printf("   FAILED: upload: %v\n", err)
		return "", false
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Code != 0 {
		fmt.Printf("   FAILED: upload: %s\n", string(raw))
		return "", false
	}

	var data struct {
		Path string `json:"path"`
	}
	_ = json.Unmarshal(env.Data, &data)
	return data.Path, data.Path != ""
}
