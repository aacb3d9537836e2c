package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SignedRequest is the JSON document the operator signs and sends base64
// encoded in X-Signed-Message. Payload must equal the request body.
type SignedRequest struct {
	Action    string          `json:"action"`
	ExpiresAt int64           `json:"expires_at"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
}

const (
	maxFutureWindow = 5 * time.Minute
	nonceKeyPrefix  = "auth:nonce:"

	// OperatorKey is the gin context key holding the verified operator address.
	OperatorKey = "operator_address"
)

func abort(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}

// Operator returns a handler that admits a request only if it carries a
// fresh, unused EIP-191 signature by operator over (action, body).
func Operator(rdb *redis.Client, operator common.Address, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		walletAddr := c.GetHeader("X-Wallet-Address")
		signedMsgB64 := c.GetHeader("X-Signed-Message")
		sigHex := c.GetHeader("X-Wallet-Signature")

		if walletAddr == "" || signedMsgB64 == "" || sigHex == "" {
			abort(c, "missing auth headers")
			return
		}
		if !common.IsHexAddress(walletAddr) || common.HexToAddress(walletAddr) != operator {
			abort(c, "not the operator")
			return
		}

		msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
		if err != nil {
			abort(c, "invalid X-Signed-Message encoding")
			return
		}
		var req SignedRequest
		if err := json.Unmarshal(msgBytes, &req); err != nil {
			abort(c, "invalid signed message JSON")
			return
		}
		if req.Action != action {
			abort(c, "action mismatch")
			return
		}

		now := time.Now().Unix()
		if req.ExpiresAt <= now {
			abort(c, "request expired")
			return
		}
		if req.ExpiresAt > now+int64(maxFutureWindow.Seconds()) {
			abort(c, "expires_at too far in future")
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "read body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		if !sameJSON(req.Payload, body) {
			abort(c, "payload mismatch")
			return
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
		if err != nil {
			abort(c, "invalid signature hex")
			return
		}
		recovered, err := Recover(msgBytes, sig)
		if err != nil || recovered != operator {
			abort(c, "invalid signature")
			return
		}

		// Replay protection: a nonce is good once until its request expires.
		ttl := time.Duration(req.ExpiresAt-now) * time.Second
		set, err := rdb.SetNX(c.Request.Context(), nonceKeyPrefix+req.Nonce, 1, ttl).Result()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !set {
			abort(c, "nonce already used")
			return
		}

		c.Set(OperatorKey, recovered.Hex())
		c.Next()
	}
}

// sameJSON compares two JSON documents ignoring insignificant whitespace.
func sameJSON(a, b []byte) bool {
	var ca, cb bytes.Buffer
	if err := json.Compact(&ca, a); err != nil {
		return false
	}
	if err := json.Compact(&cb, b); err != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
