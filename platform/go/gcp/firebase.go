package gcp

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// NewApp creates a Firebase App instance. With an empty credentials path the
// SDK falls back to application default credentials.
func NewApp(ctx context.Context, credentialsPath string) (*firebase.App, error) {
	if credentialsPath != "" {
		return firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	}
	return firebase.NewApp(ctx, nil)
}

// InitFirebaseAuth initializes the Firebase App and returns an Auth client.
// Firestore is not used in this project, so no Firestore client is created.
func InitFirebaseAuth(ctx context.Context, credentialsPath string) (*firebase.App, *firebaseauth.Client, error) {
	firebaseApp, err := NewApp(ctx, credentialsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing firebase app [%w]", err)
	}

	fbAuth, err := firebaseApp.Auth(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("error initializing firebase auth [%w]", err)
	}

	return firebaseApp, fbAuth, nil
}
