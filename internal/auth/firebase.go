package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// Custom claims set on Firebase users by the provisioning side.
const (
	claimUserID = "user_id"
	claimRole   = "role"
)

// tokenVerifier is the part of the Firebase auth client used here.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier validates Firebase ID tokens and maps their custom claims
// to an Identity.
type FirebaseVerifier struct {
	client tokenVerifier
}

// NewFirebaseVerifier initializes a Firebase app. An empty credentialsFile
// falls back to application default credentials.
func NewFirebaseVerifier(ctx context.Context, credentialsFile, projectID string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	var conf *firebase.Config
	if projectID != "" {
		conf = &firebase.Config{ProjectID: projectID}
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firebase auth client: %w", err)
	}

	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (Identity, error) {
	if idToken == "" {
		return Identity{}, ErrMissingToken
	}

	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return identityFromToken(token)
}

func identityFromToken(token *fbauth.Token) (Identity, error) {
	raw, _ := token.Claims[claimUserID].(string)
	if raw == "" {
		raw = token.UID
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: token carries no user id", ErrInvalidToken)
	}

	role, _ := token.Claims[claimRole].(string)
	if !validRole(role) {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, role)
	}

	return Identity{UserID: userID, Role: role}, nil
}
