package gourdiansession_test

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/gourdian25/gourdiansession"
)

const exampleSecret = "e89cd4dd3bc84d402a5d7823b940291fb80aa831f2f6087b68263fbe1f1dde5d"

// issue plays the identity provider's part and encrypts a session payload.
func issue(payload string) string {
	secret, err := gourdiansession.NewSharedSecret(exampleSecret)
	if err != nil {
		log.Fatal(err)
	}
	keys, err := gourdiansession.DeriveKeys(secret, gourdiansession.ProfileA256GCM)
	if err != nil {
		log.Fatal(err)
	}

	encrypter, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: keys.EncKey}, nil)
	if err != nil {
		log.Fatal(err)
	}
	object, err := encrypter.Encrypt([]byte(payload))
	if err != nil {
		log.Fatal(err)
	}
	token, err := object.CompactSerialize()
	if err != nil {
		log.Fatal(err)
	}
	return token
}

func ExampleJWEVerifier_VerifySession() {
	ctx := context.Background()

	verifier, err := gourdiansession.DefaultGourdianSessionVerifier(ctx, exampleSecret)
	if err != nil {
		log.Fatal(err)
	}

	expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	token := issue(`{"user":{"email":"ada@example.com"},"sub":"42","expires":"` + expires + `"}`)

	session, err := verifier.VerifySession(ctx, token)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(session.Identifier)

	_, err = verifier.VerifySession(ctx, issue(`{"sub":"42","expires":"2000-01-01T00:00:00Z"}`))
	fmt.Println(errors.Is(err, gourdiansession.ErrSessionExpired))

	// Output:
	// ada@example.com
	// true
}

func ExampleSessionMiddleware_RequireSession() {
	verifier, err := gourdiansession.DefaultGourdianSessionVerifier(context.Background(), exampleSecret)
	if err != nil {
		log.Fatal(err)
	}

	mw := gourdiansession.NewSessionMiddleware(verifier, nil, nil, nil)
	handler := mw.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := gourdiansession.SessionFromContext(r.Context())
		fmt.Fprint(w, "hello "+session.Identifier)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "next-auth.session-token", Value: issue(`{"email":"grace@example.com"}`)})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	fmt.Println(rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	fmt.Println(rec.Code)

	// Output:
	// 200 hello grace@example.com
	// 401
}
