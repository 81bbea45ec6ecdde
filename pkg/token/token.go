package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Purpose token purpose, media (rtc) or messaging (rtm)
type Purpose string

const (
	// PurposeRTC token for the media transport
	PurposeRTC Purpose = "rtc"
	// PurposeRTM token for the messaging channel
	PurposeRTM Purpose = "rtm"
)

// RoleType set participant role
type RoleType string

const (
	// RoleHost is the room host role
	RoleHost RoleType = "host"
	// RoleParticipant is the plain participant role
	RoleParticipant RoleType = "participant"
)

// Claims structure for custom claims in room JWT
type Claims struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	RoomID   string `json:"room_id"`
	Channel  string `json:"channel"`
	Role     string `json:"role"`
	Purpose  string `json:"purpose"`
	jwt.RegisteredClaims
}

// Secret Key for JWT signing and validation
var (
	JWTSecret = []byte("secure_secret_key")
	// room tokens live as long as the room record
	tokenExpiration = 24 * time.Hour
)

// GenerateRoomToken generates a room scoped JWT token
func GenerateRoomToken(userID, userName, roomID, channel string, role RoleType, purpose Purpose) (string, error) {
	claims := Claims{
		UserID:   userID,
		UserName: userName,
		RoomID:   roomID,
		Channel:  channel,
		Role:     string(role),
		Purpose:  string(purpose),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "sync_service",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(JWTSecret)
}

// ParseRoomToken parses a room JWT and extracts the Claims
func ParseRoomToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return JWTSecret, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// CheckTokenNotExpire check room JWT not expires
func CheckTokenNotExpire(tokenStr string) (bool, error) {
	claims, err := ParseRoomToken(tokenStr)
	if err != nil {
		return false, err
	}

	tokenExpire, err := claims.GetExpirationTime()
	if err != nil {
		return false, nil
	}

	return tokenExpire.After(time.Now()), nil
}
