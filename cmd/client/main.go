// Command client is a terminal client for the analysis service. It uploads
// one image, asks an opening question, then reads follow-up questions from
// stdin until EOF. The session cookie is kept for the life of the process, so
// every question lands on the same conversation.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type answerResponse struct {
	Answer string `json:"answer"`
	Turns  int    `json:"turns"`
}

type errorResponse struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "base URL of the analysis service")
	imagePath := flag.String("image", "", "image to open the session with")
	query := flag.String("query", "Describe this image.", "opening question")
	flag.Parse()

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "usage: client -image <path> [-query <question>] [-api <url>]")
		os.Exit(2)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("cookie jar: %v", err)
	}
	client := &http.Client{Jar: jar, Timeout: 2 * time.Minute}

	answer, turns, err := ask(client, *apiURL, *query, *imagePath)
	if err != nil {
		log.Fatalf("opening turn failed: %v", err)
	}
	fmt.Printf("\n%s\n\n(%d turns so far; type follow-up questions, Ctrl-D to quit)\n", answer, turns)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			continue
		}
		answer, _, err := ask(client, *apiURL, q, "")
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", answer)
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("read stdin: %v", err)
	}
}

// ask posts one turn. imagePath is only set on the opening turn.
func ask(client *http.Client, apiURL, query, imagePath string) (string, int, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("query", query); err != nil {
		return "", 0, err
	}
	if imagePath != "" {
		f, err := os.Open(imagePath)
		if err != nil {
			return "", 0, err
		}
		defer f.Close()
		part, err := w.CreateFormFile("image_file", filepath.Base(imagePath))
		if err != nil {
			return "", 0, err
		}
		if _, err := io.Copy(part, f); err != nil {
			return "", 0, err
		}
	}
	if err := w.Close(); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(apiURL, "/")+"/analyze", &body)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", 0, err
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Error.Message != "" {
			return "", 0, fmt.Errorf("%s (%s)", e.Error.Message, e.Error.Kind)
		}
		return "", 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var a answerResponse
	if err := json.Unmarshal(data, &a); err != nil {
		return "", 0, fmt.Errorf("decode response: %w", err)
	}
	return a.Answer, a.Turns, nil
}
