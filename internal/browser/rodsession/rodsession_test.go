package rodsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

func TestLauncher_ShutdownBeforeStart(t *testing.T) {
	l := NewLauncher(config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))
	assert.NoError(t, l.Shutdown(context.Background()))
}

func TestSession_ClosedSessionIsFatal(t *testing.T) {
	s := &Session{closed: true}
	_, err := s.Inspect(context.Background(), "#x", nil)
	assert.ErrorIs(t, err, probe.ErrBrowserSession)
	assert.NoError(t, s.Close(context.Background()), "second close is a no-op")
}

func TestEvalError(t *testing.T) {
	thrown := &rod.EvalError{RuntimeExceptionDetails: &proto.RuntimeExceptionDetails{
		Text:      "Uncaught",
		Exception: &proto.RuntimeRemoteObject{ClassName: "TypeError", Description: "TypeError: x is null"},
	}}
	err := evalError("inspect", thrown)
	assert.ErrorIs(t, err, probe.ErrPageScript)
	assert.False(t, probe.IsFatal(err))

	err = evalError("inspect", errors.New("context deadline exceeded"))
	assert.ErrorIs(t, err, probe.ErrBrowserSession)
}

func TestSession_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("browser integration test skipped in short mode")
	}
	if _, err := exec.LookPath("chromium"); err != nil {
		if _, err := exec.LookPath("google-chrome"); err != nil {
			t.Skip("no Chrome binary found")
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body style="margin:0"><div id="box" class="a b" style="position:absolute;left:5px;top:5px;width:40px;height:20px">x</div></body></html>`)
	}))
	defer srv.Close()

	l := NewLauncher(config.BrowserConfig{Headless: true, Stealth: true, NavigationTimeout: 10 * time.Second, Timezone: "UTC", Locale: "en-US"}, zaptest.NewLogger(t))
	ctx := context.Background()
	sess, err := l.NewSession(ctx)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, sess.Close(ctx))
		assert.NoError(t, l.Shutdown(ctx))
	}()

	require.NoError(t, sess.Navigate(ctx, srv.URL))
	require.NoError(t, sess.SetViewport(ctx, schemas.ViewportSpec{Name: "Tablet", Width: 768, Height: 1024}))

	st, err := sess.Inspect(ctx, "#box", []string{"width"})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count)
	assert.InDelta(t, 40, st.ClientRect.Width, 0.01)
	assert.Equal(t, "40px", st.Styles["width"])
	assert.Equal(t, []string{"a", "b"}, st.Classes)
	assert.InDelta(t, 768, st.ViewportWidth, 0.01)

	assert.ErrorIs(t, sess.ScrollIntoView(ctx, "#nope"), probe.ErrElementNotFound)

	_, err = sess.Inspect(ctx, "#box[", nil)
	assert.ErrorIs(t, err, probe.ErrInvalidSelector)
	assert.False(t, probe.IsFatal(err))

	hit, err := sess.HitTest(ctx, "#box", st.ClientRect.Center())
	require.NoError(t, err)
	assert.True(t, hit)

	page, err := sess.PageState(ctx, "#box")
	require.NoError(t, err)
	assert.Len(t, page.TextHash, 8)

	png, err := sess.Screenshot(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), png[:4])
}
