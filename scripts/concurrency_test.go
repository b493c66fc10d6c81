//go:build ignore
// +build ignore

// Manual concurrency stress test for the borrow endpoint.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <book_id> <username:password> [username:password ...]
//
// Or with environment variables:
//
//	BOOK_ID=<uuid> USERS=alice:pw1,bob:pw2 go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Logs every user in through /auth/login to obtain a token.
//  2. Fires N goroutines, one per user, all posting to /loans for the
//     same book at the same instant.
//  3. Prints how many borrows were accepted (201) versus refused (409);
//     accepted must never exceed the book's available copies.
//
// Prerequisites:
//   - Server must be running (SERVER_ADDR, default http://localhost:8080).
//   - The book and the user accounts must already exist.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type credential struct {
	Username string
	Password string
}

type borrowResult struct {
	Username   string
	StatusCode int
	Body       string
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	bookID := os.Getenv("BOOK_ID")
	usersEnv := os.Getenv("USERS")

	var creds []credential
	if usersEnv != "" {
		for _, pair := range strings.Split(usersEnv, ",") {
			creds = append(creds, parseCredential(pair))
		}
	}
	if bookID == "" || len(creds) == 0 {
		args := os.Args[1:]
		if len(args) < 2 {
			log.Fatalf("usage: %s <book_id> <username:password> [username:password ...]", os.Args[0])
		}
		bookID = args[0]
		creds = creds[:0]
		for _, pair := range args[1:] {
			creds = append(creds, parseCredential(pair))
		}
	}

	client := &http.Client{Timeout: 10 * time.Second}

	tokens := make(map[string]string, len(creds))
	for _, c := range creds {
		token, err := login(client, serverAddr, c)
		if err != nil {
			log.Fatalf("login failed for %s: %v", c.Username, err)
		}
		tokens[c.Username] = token
	}

	fmt.Printf("firing %d concurrent borrows for book %s\n", len(creds), bookID)

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		results = make([]borrowResult, len(creds))
	)
	for i, c := range creds {
		wg.Add(1)
		go func(i int, c credential) {
			defer wg.Done()
			<-start
			results[i] = borrow(client, serverAddr, tokens[c.Username], c.Username, bookID)
		}(i, c)
	}
	close(start)
	wg.Wait()

	var accepted, refused, failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("  %-20s ERROR %v\n", r.Username, r.Err)
		case r.StatusCode == http.StatusCreated:
			accepted++
			fmt.Printf("  %-20s 201 borrowed\n", r.Username)
		case r.StatusCode == http.StatusConflict:
			refused++
			fmt.Printf("  %-20s 409 %s\n", r.Username, r.Body)
		default:
			failed++
			fmt.Printf("  %-20s %d %s\n", r.Username, r.StatusCode, r.Body)
		}
	}
	fmt.Printf("\naccepted=%d refused=%d failed=%d\n", accepted, refused, failed)
	fmt.Println("verify with GET /books/<id> that available_copies dropped by exactly the accepted count")
}

func parseCredential(pair string) credential {
	parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		log.Fatalf("bad credential %q, want username:password", pair)
	}
	return credential{Username: parts[0], Password: parts[1]}
}

func login(client *http.Client, serverAddr string, c credential) (string, error) {
	payload, _ := json.Marshal(map[string]string{
		"username": c.Username,
		"password": c.Password,
	})
	resp, err := client.Post(serverAddr+"/auth/login", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	return parsed.Token, nil
}

func borrow(client *http.Client, serverAddr, token, username, bookID string) borrowResult {
	payload, _ := json.Marshal(map[string]string{"book_id": bookID})
	req, err := http.NewRequest(http.MethodPost, serverAddr+"/loans", bytes.NewReader(payload))
	if err != nil {
		return borrowResult{Username: username, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return borrowResult{Username: username, Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return borrowResult{
		Username:   username,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
