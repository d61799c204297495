// opschat-tail is a terminal client for opschatd: it follows one conversation
// live, prints incoming messages, and sends stdin lines as replies.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"opschat/internal/api"
	"opschat/internal/api/rest"
	"opschat/internal/app/dto"
	"opschat/internal/domain/chat"
	"opschat/internal/infra/obs"
	"opschat/internal/push/ws"
	"opschat/internal/sync"
)

func main() {
	_ = godotenv.Load()

	var (
		baseURL      = flag.String("url", getenv("OPSCHAT_URL", "http://localhost:8080"), "opschatd base URL")
		token        = flag.String("token", os.Getenv("OPSCHAT_TOKEN"), "bearer token (skips login)")
		email        = flag.String("email", os.Getenv("OPSCHAT_EMAIL"), "login email")
		password     = flag.String("password", os.Getenv("OPSCHAT_PASSWORD"), "login password")
		conversation = flag.String("conversation", "", "conversation id to follow (default: most recent)")
	)
	flag.Parse()

	logger := obs.NewLogger(getenv("APP_ENV", "dev"))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	authToken := strings.TrimSpace(*token)
	var selfID string
	admin := false
	if authToken == "" {
		auth, err := login(ctx, *baseURL, *email, *password)
		if err != nil {
			fail("login failed: %v", err)
		}
		authToken = auth.Token
		selfID = auth.User.ID
		admin = hasRole(auth.User.Roles, "admin")
	} else {
		profile, err := whoami(ctx, *baseURL, authToken)
		if err != nil {
			fail("token rejected: %v", err)
		}
		selfID = profile.ID
		admin = hasRole(profile.Roles, "admin")
	}

	client, err := rest.NewClient(rest.Config{BaseURL: *baseURL, Token: authToken}, logger)
	if err != nil {
		fail("client setup failed: %v", err)
	}
	subscriber, err := ws.Dial(ctx, ws.Config{URL: wsURL(*baseURL), Token: authToken}, logger)
	if err != nil {
		fail("push channel dial failed: %v", err)
	}

	session, err := sync.NewSession(sync.Options{
		API:        client,
		Subscriber: subscriber,
		Notifier:   terminalNotifier{},
		Logger:     logger,
		SelfID:     selfID,
		Privileged: admin,
	})
	if err != nil {
		fail("session setup failed: %v", err)
	}
	defer session.Close()
	if err := session.Start(ctx); err != nil {
		fail("session start failed: %v", err)
	}

	target := strings.TrimSpace(*conversation)
	if target == "" {
		roster := session.Roster()
		if len(roster) == 0 {
			fail("no conversations available; pass -conversation")
		}
		target = roster[0].ID
	}
	if err := session.Select(ctx, target); err != nil {
		fail("cannot open conversation %s: %v", target, err)
	}

	for _, msg := range session.Messages() {
		printMessage(msg, selfID)
	}
	fmt.Fprintf(os.Stderr, "-- following %s, type to reply --\n", target)

	go readStdin(ctx, session)
	follow(ctx, session, selfID)
}

// follow prints messages as the session's store grows. The session applies
// live events internally; tailing is just diffing the rendered prefix.
func follow(ctx context.Context, session *sync.Session, selfID string) {
	printed := len(session.Messages())
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			messages := session.Messages()
			if len(messages) < printed {
				printed = 0
			}
			for _, msg := range messages[printed:] {
				printMessage(msg, selfID)
			}
			if len(messages) != printed {
				session.Refocus(ctx)
			}
			printed = len(messages)
		}
	}
}

func readStdin(ctx context.Context, session *sync.Session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if _, err := session.Send(ctx, api.SendParams{Body: line}); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}

func printMessage(msg chat.Message, selfID string) {
	who := msg.SenderID
	if msg.SenderID == selfID {
		who = "me"
	}
	body := msg.Body
	if msg.Kind != chat.KindText {
		body = msg.Preview(120)
	}
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04:05"), who, body)
}

type terminalNotifier struct{}

func (terminalNotifier) RequestPermission() bool { return true }

func (terminalNotifier) Notify(title, body string) {
	fmt.Fprintf(os.Stderr, "** %s: %s\n", title, body)
}

func login(ctx context.Context, baseURL, email, password string) (*dto.AuthResponse, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, fmt.Errorf("email and password (or a token) are required")
	}
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/v1/auth/login", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var auth dto.AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, err
	}
	return &auth, nil
}

func whoami(ctx context.Context, baseURL, token string) (*dto.UserProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var profile dto.UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func wsURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		return "wss://" + strings.TrimPrefix(trimmed, "https://") + "/ws"
	case strings.HasPrefix(trimmed, "http://"):
		return "ws://" + strings.TrimPrefix(trimmed, "http://") + "/ws"
	}
	return trimmed + "/ws"
}

func hasRole(roles []string, want string) bool {
	for _, role := range roles {
		if strings.EqualFold(role, want) {
			return true
		}
	}
	return false
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
