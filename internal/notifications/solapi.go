package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	solapiSendPath    = "/messages/v4/send"
	solapiBalancePath = "/cash/v1/balance"
	solapiSuccess     = "2000"
)

// SolapiConfig holds Solapi credentials.
type SolapiConfig struct {
	BaseURL      string
	APIKey       string
	APISecret    string
	SenderNumber string
	PFID         string
	Timeout      time.Duration
}

// SolapiGateway sends Kakao alimtalk messages through Solapi.
type SolapiGateway struct {
	cfg    SolapiConfig
	client *http.Client
	now    func() time.Time
	logger *zap.Logger
}

// NewSolapiGateway creates a Solapi gateway. Missing credentials are logged; Send and Test then
// fail with ErrNotConfigured.
func NewSolapiGateway(cfg SolapiConfig, logger *zap.Logger) *SolapiGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	g := &SolapiGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		now:    time.Now,
		logger: logger,
	}
	if !g.configured() {
		logger.Warn("solapi credentials incomplete; notifications will fail")
	}
	return g
}

func (g *SolapiGateway) configured() bool {
	return g.cfg.APIKey != "" && g.cfg.APISecret != "" && g.cfg.SenderNumber != "" && g.cfg.PFID != ""
}

type solapiMessage struct {
	To           string             `json:"to"`
	From         string             `json:"from"`
	KakaoOptions solapiKakaoOptions `json:"kakaoOptions"`
}

type solapiKakaoOptions struct {
	PFID       string            `json:"pfId"`
	TemplateID string            `json:"templateId"`
	Variables  map[string]string `json:"variables,omitempty"`
}

type solapiResponse struct {
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
	MessageID     string `json:"messageId"`
}

// Send posts one alimtalk message. Template variables are wrapped as #{name}.
func (g *SolapiGateway) Send(ctx context.Context, msg Message) (string, error) {
	if !g.configured() {
		return "", ErrNotConfigured
	}
	to := NormalizePhone(msg.To)
	if to == "" {
		return "", fmt.Errorf("solapi: empty recipient")
	}
	vars := make(map[string]string, len(msg.Variables))
	for k, v := range msg.Variables {
		vars["#{"+k+"}"] = v
	}
	body, err := json.Marshal(map[string]solapiMessage{"message": {
		To:   to,
		From: NormalizePhone(g.cfg.SenderNumber),
		KakaoOptions: solapiKakaoOptions{
			PFID:       g.cfg.PFID,
			TemplateID: msg.TemplateCode,
			Variables:  vars,
		},
	}})
	if err != nil {
		return "", fmt.Errorf("solapi: marshal: %w", err)
	}

	respBody, err := g.do(ctx, http.MethodPost, solapiSendPath, body)
	if err != nil {
		return "", err
	}
	var res solapiResponse
	if err := json.Unmarshal(respBody, &res); err != nil {
		return "", fmt.Errorf("solapi: decode response: %w", err)
	}
	if res.StatusCode != solapiSuccess {
		return "", fmt.Errorf("solapi: %s: %s", res.StatusCode, res.StatusMessage)
	}
	g.logger.Debug("solapi message sent", zap.String("message_id", res.MessageID), zap.String("template", msg.TemplateCode))
	return res.MessageID, nil
}

// Test verifies credentials with an authenticated balance lookup.
func (g *SolapiGateway) Test(ctx context.Context) error {
	if !g.configured() {
		return ErrNotConfigured
	}
	_, err := g.do(ctx, http.MethodGet, solapiBalancePath, nil)
	return err
}

func (g *SolapiGateway) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("solapi: create request: %w", err)
	}
	req.Header.Set("Authorization", g.authorization())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solapi: request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("solapi: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("solapi: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// authorization builds the HMAC-SHA256 header: signature = hex(hmac(secret, date+salt)).
func (g *SolapiGateway) authorization() string {
	date := g.now().UTC().Format(time.RFC3339)
	salt := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("HMAC-SHA256 apiKey=%s, date=%s, salt=%s, signature=%s",
		g.cfg.APIKey, date, salt, Sign(g.cfg.APISecret, date, salt))
}

// Sign returns the Solapi request signature.
func Sign(secret, date, salt string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(date + salt))
	return hex.EncodeToString(mac.Sum(nil))
}
