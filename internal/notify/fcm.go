package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	fcmScope        = "https://www.googleapis.com/auth/firebase.messaging"
	defaultTokenURI = "https://oauth2.googleapis.com/token"
	fcmEndpoint     = "https://fcm.googleapis.com/v1/projects/%s/messages:send"

	// tokens are refreshed this long before Google expires them
	tokenSkew = time.Minute
)

// ServiceAccount is the subset of a Google service-account key file used to mint access tokens.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// LoadServiceAccount reads a service-account key file.
func LoadServiceAccount(path string) (ServiceAccount, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ServiceAccount{}, fmt.Errorf("read service account: %w", err)
	}
	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("decode service account: %w", err)
	}
	if sa.PrivateKey == "" || sa.ClientEmail == "" {
		return ServiceAccount{}, errors.New("service account is missing private_key or client_email")
	}
	if sa.TokenURI == "" {
		sa.TokenURI = defaultTokenURI
	}
	return sa, nil
}

// tokenSource exchanges a signed service-account assertion for an OAuth
// access token and caches it until shortly before expiry. Concurrent callers
// share one in-flight exchange.
type tokenSource struct {
	client  *resty.Client
	account ServiceAccount
	now     func() time.Time

	inflight singleflight.Group
	mu       sync.Mutex
	token    string
	expires  time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (ts *tokenSource) Token(ctx context.Context) (string, error) {
	if token, ok := ts.cached(); ok {
		return token, nil
	}
	// the exchange outlives a cancelled caller so waiting callers still get the token;
	// the resty client timeout bounds it
	ch := ts.inflight.DoChan("token", func() (interface{}, error) {
		if token, ok := ts.cached(); ok {
			return token, nil
		}
		return ts.exchange(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (ts *tokenSource) cached() (string, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && ts.now().Add(tokenSkew).Before(ts.expires) {
		return ts.token, true
	}
	return "", false
}

func (ts *tokenSource) exchange(ctx context.Context) (string, error) {
	now := ts.now()
	assertion, err := ts.assertion(now)
	if err != nil {
		return "", err
	}

	var out tokenResponse
	resp, err := ts.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type": "urn:ietf:params:oauth:grant-type:jwt-bearer",
			"assertion":  assertion,
		}).
		SetResult(&out).
		Post(ts.account.TokenURI)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if resp.IsError() || out.AccessToken == "" {
		return "", fmt.Errorf("token exchange failed with %d: %s", resp.StatusCode(), resp.String())
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token = out.AccessToken
	ts.expires = now.Add(time.Duration(out.ExpiresIn) * time.Second)
	return ts.token, nil
}

func (ts *tokenSource) assertion(now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(ts.account.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	claims := jwt.MapClaims{
		"iss":   ts.account.ClientEmail,
		"scope": fcmScope,
		"aud":   ts.account.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

type fcmRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      fcmAndroid        `json:"android"`
	APNS         fcmAPNS           `json:"apns"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority     string                 `json:"priority"`
	Notification map[string]interface{} `json:"notification,omitempty"`
}

type fcmAPNS struct {
	Headers map[string]string      `json:"headers"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// FCMSender sends pushes through the FCM HTTP v1 API.
type FCMSender struct {
	client   *resty.Client
	endpoint string
	tokens   *tokenSource
}

// NewFCMSender builds an FCMSender for the project. An empty projectID falls
// back to the one in the service account.
func NewFCMSender(client *resty.Client, projectID string, account ServiceAccount) *FCMSender {
	if projectID == "" {
		projectID = account.ProjectID
	}
	return &FCMSender{
		client:   client,
		endpoint: fmt.Sprintf(fcmEndpoint, projectID),
		tokens:   &tokenSource{client: client, account: account, now: time.Now},
	}
}

func (s *FCMSender) Send(ctx context.Context, push Push) error {
	accessToken, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(fcmRequest{Message: fcmMessage{
			Token:        push.Token,
			Notification: fcmNotification{Title: push.Title, Body: push.Body},
			Data:         push.Data,
			Android: fcmAndroid{
				Priority:     "high",
				Notification: map[string]interface{}{"notification_count": push.Badge},
			},
			APNS: fcmAPNS{
				Headers: map[string]string{"apns-priority": "10"},
				Payload: map[string]interface{}{"aps": map[string]interface{}{"badge": push.Badge, "sound": "default"}},
			},
		}}).
		Post(s.endpoint)
	if err != nil {
		return fmt.Errorf("fcm request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("fcm returned %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
