package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/syncmaster/internal/models"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		URL:           srv.URL,
		AnonKey:       "anon",
		AudioBuckets:  []string{"audio", "tracks", "music"},
		AvatarBuckets: []string{"avatars"},
		Timeout:       2 * time.Second,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{})

	_, err := c.Briefs(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, KindNetwork, KindOf(err))

	_, _, err = c.AuthorizeURL("google", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSignIn(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response any
		wantErr  error
	}{
		{
			name:   "success",
			status: http.StatusOK,
			response: map[string]any{
				"access_token":  "at",
				"refresh_token": "rt",
				"expires_in":    3600,
				"user": map[string]any{
					"id":            "u1",
					"email":         "a@b.c",
					"user_metadata": map[string]string{"name": "Ada", "role": "artist"},
				},
			},
		},
		{
			name:     "bad credentials",
			status:   http.StatusBadRequest,
			response: map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"},
			wantErr:  ErrInvalidCredentials,
		},
		{
			name:     "unconfirmed email",
			status:   http.StatusBadRequest,
			response: map[string]string{"error_code": "email_not_confirmed", "msg": "Email not confirmed"},
			wantErr:  ErrEmailNotConfirmed,
		},
		{
			name:     "rate limited",
			status:   http.StatusTooManyRequests,
			response: map[string]string{"msg": "Email rate limit exceeded"},
			wantErr:  ErrRateLimited,
		},
		{
			name:     "gateway down",
			status:   http.StatusBadGateway,
			response: map[string]string{"message": "bad gateway"},
			wantErr:  ErrNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/v1/token", r.URL.Path)
				assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
				assert.Equal(t, "anon", r.Header.Get("apikey"))
				writeJSON(w, tt.status, tt.response)
			}))

			session, err := c.SignIn(context.Background(), "a@b.c", "secret")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, c.CurrentSession())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "at", session.AccessToken)
			assert.Equal(t, "u1", session.User.ID)
			assert.Equal(t, models.RoleArtist, session.User.Metadata.Role)
			assert.False(t, session.Expired())
			assert.Same(t, session, c.CurrentSession())
		})
	}
}

func TestSignIn_ValidatesBeforeIO(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	_, err := c.SignIn(context.Background(), "", "x")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSignUp_ConfirmationRequired(t *testing.T) {
	var mu sync.Mutex
	var profileBody map[string]any

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/signup":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, map[string]any{"name": "Ada", "role": "artist"}, body["data"])
			writeJSON(w, http.StatusOK, map[string]any{"id": "u2", "email": "a@b.c"})
		case "/rest/v1/profiles":
			mu.Lock()
			_ = json.NewDecoder(r.Body).Decode(&profileBody)
			mu.Unlock()
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "new row violates row-level security policy"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	session, err := c.SignUp(context.Background(), "a@b.c", "secret", "Ada", models.RoleArtist)
	require.NoError(t, err)
	assert.Nil(t, session)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "u2", profileBody["id"])
	assert.Equal(t, "free", profileBody["subscription_tier"])
}

func TestSignOut_ClearsSessionEvenOnFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"msg": "boom"})
	}))
	c.setSession(&models.Session{AccessToken: "at"})

	err := c.SignOut(context.Background())
	require.Error(t, err)
	assert.Nil(t, c.CurrentSession())
}

func TestAuthorizeURL_PKCE(t *testing.T) {
	c := New(Config{URL: "https://proj.supabase.co", AnonKey: "anon"})

	raw, verifier, err := c.AuthorizeURL("google", "http://127.0.0.1:8080/callback")
	require.NoError(t, err)
	require.NotEmpty(t, verifier)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "google", q.Get("provider"))
	assert.Equal(t, "s256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEqual(t, verifier, q.Get("code_challenge"))
	assert.Equal(t, "http://127.0.0.1:8080/callback", q.Get("redirect_to"))
}

func TestExpiredSessionIsRefreshed(t *testing.T) {
	var refreshed atomic.Bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			refreshed.Store(true)
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "new", "refresh_token": "rt2", "expires_in": 3600})
		case "/rest/v1/briefs":
			assert.Equal(t, "Bearer new", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, []any{})
		}
	}))
	c.setSession(&models.Session{
		AccessToken:  "old",
		RefreshToken: "rt",
		ExpiresAt:    time.Now().Add(-time.Minute),
		User:         models.AuthUser{ID: "u1"},
	})

	_, err := c.Briefs(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed.Load())
	assert.Equal(t, "new", c.CurrentSession().AccessToken)
	assert.Equal(t, "u1", c.CurrentSession().User.ID)
}

func TestTracks_Translation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/tracks", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		writeJSON(w, http.StatusOK, []map[string]any{{
			"id":          "t1",
			"user_id":     "u1",
			"title":       "Night Drive",
			"artist_name": "Ada",
			"genre":       "Synthwave",
			"bpm":         110,
			"tags":        []string{" dark ", "", "retro"},
			"upload_date": "2024-05-01",
			"duration":    "3:12",
			"audio_url":   "https://x/audio.mp3",
		}})
	}))

	tracks, err := c.Tracks(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, tracks, 1)

	got := tracks[0]
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Ada", got.ArtistName)
	require.NotNil(t, got.BPM)
	assert.Equal(t, 110, *got.BPM)
	assert.Equal(t, []string{"dark", "retro"}, got.Tags)
	assert.Equal(t, "https://x/audio.mp3", got.AudioURL)
}

func TestUpdateTrack_OnlyEditableFields(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.t1", r.URL.Query().Get("id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))

	title := "New"
	err := c.UpdateTrack(context.Background(), "t1", models.TrackPatch{Title: &title, Tags: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "New", "tags": []any{"a"}}, body)
}

func TestUpdateTrack_ClearBPM(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))

	title := "  Night Drive "
	err := c.UpdateTrack(context.Background(), "t1", models.TrackPatch{Title: &title, ClearBPM: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Night Drive", "bpm": nil}, body)
}

func TestUpdateApplicationStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "eq.pending", r.URL.Query().Get("status"))
		if r.URL.Query().Get("id") == "eq.a1" {
			writeJSON(w, http.StatusOK, []map[string]any{{"id": "a1", "status": "accepted"}})
			return
		}
		writeJSON(w, http.StatusOK, []any{})
	}))

	require.NoError(t, c.UpdateApplicationStatus(context.Background(), "a1", models.StatusAccepted))
	assert.ErrorIs(t, c.UpdateApplicationStatus(context.Background(), "a2", models.StatusRejected), models.ErrValidation)
	assert.ErrorIs(t, c.UpdateApplicationStatus(context.Background(), "a1", models.StatusPending), models.ErrValidation)
}

func TestUploadAudio_BucketFallback(t *testing.T) {
	var mu sync.Mutex
	var attempts []string
	var stored []byte

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/storage/v1/object/"), "/", 2)
		attempts = append(attempts, parts[0])
		data, _ := io.ReadAll(r.Body)
		if parts[0] != "tracks" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"statusCode": "404", "error": "Bucket not found", "message": "Bucket not found"})
			return
		}
		assert.Equal(t, "audio/mpeg", r.Header.Get("Content-Type"))
		stored = data
		writeJSON(w, http.StatusOK, map[string]string{"Key": r.URL.Path})
	}))

	var sent int64
	payload := []byte("ID3 fake audio bytes")
	file := models.File{
		Name:        "my song.mp3",
		ContentType: "audio/mpeg",
		Size:        int64(len(payload)),
		Body:        bytes.NewReader(payload),
		Progress:    func(n int64) { sent = n },
	}

	u, err := c.UploadAudio(context.Background(), file, "u1")
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"audio", "tracks"}, attempts)
	assert.Equal(t, payload, stored)
	assert.Equal(t, int64(len(payload)), sent)
	assert.Contains(t, u, "/storage/v1/object/public/tracks/u1/")
	assert.True(t, strings.HasSuffix(u, "-my_song.mp3"))
}

func TestUploadAudio_AllBucketsMissing(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"statusCode": "404", "error": "not_found", "message": "Bucket not found"})
	}))

	_, err := c.UploadAudio(context.Background(), models.File{Name: "a.wav", Body: strings.NewReader("x")}, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorageMisconfigured)
	assert.Contains(t, err.Error(), "audio, tracks, music")
}

func TestUploadAudio_OtherErrorStops(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusForbidden, map[string]string{"statusCode": "403", "error": "Unauthorized", "message": "new row violates row-level security policy"})
	}))

	_, err := c.UploadAudio(context.Background(), models.File{Name: "a.wav", Body: strings.NewReader("x")}, "u1")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, KindStorage, KindOf(err))
	assert.False(t, errors.Is(err, ErrStorageMisconfigured))
}

func TestUploadAudio_NoFile(t *testing.T) {
	c := New(Config{URL: "http://unused", AnonKey: "anon"})
	_, err := c.UploadAudio(context.Background(), models.File{}, "u1")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestTransportErrorIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := New(Config{URL: srv.URL, AnonKey: "anon", Timeout: time.Second})
	_, err := c.Briefs(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
}
