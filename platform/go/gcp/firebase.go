package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/clinichub/clinic-api/platform/go/setups"
)

// GetApp creates a Firebase App instance, from a service account file when one is given.
func GetApp(ctx context.Context, credentialsFile string) (*firebase.App, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	return firebase.NewApp(ctx, nil, opts...)
}

// InitFirebaseAuth returns the Auth client used by AUTH_PROVIDER=firebase.
func InitFirebaseAuth(ctx context.Context) (*firebaseauth.Client, error) {
	app, err := GetApp(ctx, setups.FirebaseCredentialsFile())
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	fbAuth, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase auth: %w", err)
	}
	return fbAuth, nil
}
