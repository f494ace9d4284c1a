// internal/browser/session_test.go
package browser_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/uiprobe/api/schemas"
	"github.com/xkilldash9x/uiprobe/internal/browser"
	"github.com/xkilldash9x/uiprobe/internal/config"
	"github.com/xkilldash9x/uiprobe/internal/probe"
)

const fixturePage = `<!doctype html>
<html><head><style>
  body { margin: 0; height: 3000px; }
  #box { position: absolute; left: 10px; top: 20px; width: 100px; height: 50px; background: rgb(0, 128, 0); }
  #far { position: absolute; left: 0; top: 2500px; width: 50px; height: 50px; }
  .dot { display: inline-block; width: 8px; height: 8px; }
  #covered { position: absolute; left: 300px; top: 20px; width: 40px; height: 40px; }
  #overlay { position: absolute; left: 290px; top: 10px; width: 60px; height: 60px; z-index: 2; }
</style></head>
<body>
  <div id="box" class="panel active">Hello</div>
  <div id="far"></div>
  <div id="covered"></div><div id="overlay"></div>
  <span class="dot"></span><span class="dot"></span><span class="dot"></span>
  <input id="name">
  <script>
    document.getElementById("box").addEventListener("click", e => { e.target.style.left = "200px"; });
  </script>
</body></html>`

// chromeAvailable skips tests when no Chrome binary is installed.
func chromeAvailable(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("browser integration test skipped in short mode")
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "headless-shell", "chrome"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome binary found")
}

func newTestSession(t *testing.T) (schemas.BrowserSession, string) {
	t.Helper()
	chromeAvailable(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, fixturePage)
	}))
	t.Cleanup(srv.Close)

	mgr := browser.NewManager(config.BrowserConfig{
		Headless:          true,
		NavigationTimeout: 10 * time.Second,
		Stealth:           true,
		Timezone:          "UTC",
		Locale:            "en-US",
	}, zaptest.NewLogger(t))
	ctx := context.Background()
	sess, err := mgr.NewSession(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assert.NoError(t, sess.Close(shutdownCtx))
		assert.NoError(t, mgr.Shutdown(shutdownCtx))
	})
	return sess, srv.URL
}

func TestSession_Integration(t *testing.T) {
	sess, url := newTestSession(t)
	ctx := context.Background()

	require.NoError(t, sess.Navigate(ctx, url))
	require.NoError(t, sess.SetViewport(ctx, schemas.ViewportSpec{Name: "Mobile", Width: 375, Height: 667}))

	vp, err := sess.Viewport(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Mobile", vp.Name)

	t.Run("inspect reads geometry styles and classes", func(t *testing.T) {
		st, err := sess.Inspect(ctx, "#box", []string{"background-color"})
		require.NoError(t, err)
		assert.Equal(t, 1, st.Count)
		assert.InDelta(t, 10, st.ClientRect.X, 0.01)
		assert.InDelta(t, 50, st.ClientRect.Height, 0.01)
		assert.Equal(t, "rgb(0, 128, 0)", st.Styles["background-color"])
		assert.Equal(t, []string{"panel", "active"}, st.Classes)
		assert.Equal(t, "Hello", st.Text)
		assert.InDelta(t, 375, st.ViewportWidth, 0.01)
	})

	t.Run("inspect of a missing selector has zero count", func(t *testing.T) {
		st, err := sess.Inspect(ctx, ".nope", nil)
		require.NoError(t, err)
		assert.Zero(t, st.Count)
	})

	t.Run("count", func(t *testing.T) {
		st, err := sess.Inspect(ctx, ".dot", nil)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Count)
	})

	t.Run("click changes layout", func(t *testing.T) {
		require.NoError(t, sess.Click(ctx, schemas.Point{X: 60, Y: 45}))
		assert.Eventually(t, func() bool {
			st, err := sess.Inspect(ctx, "#box", nil)
			return err == nil && st.ClientRect.X > 199
		}, 5*time.Second, 50*time.Millisecond)
	})

	t.Run("scroll into view", func(t *testing.T) {
		require.NoError(t, sess.ScrollIntoView(ctx, "#far"))
		st, err := sess.Inspect(ctx, "#far", nil)
		require.NoError(t, err)
		assert.Greater(t, st.ScrollY, 0.0)

		err = sess.ScrollIntoView(ctx, "#missing")
		assert.ErrorIs(t, err, probe.ErrElementNotFound)
	})

	t.Run("type into input", func(t *testing.T) {
		require.NoError(t, sess.Type(ctx, "#name", "probe"))
		err := sess.Type(ctx, "#missing", "x")
		assert.ErrorIs(t, err, probe.ErrElementNotInteractable)
	})

	t.Run("malformed selector is not a session failure", func(t *testing.T) {
		_, err := sess.Inspect(ctx, ".dot[", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, probe.ErrInvalidSelector)
		assert.False(t, probe.IsFatal(err))

		_, err = sess.PageState(ctx, ".dot[")
		assert.ErrorIs(t, err, probe.ErrInvalidSelector)
		assert.ErrorIs(t, sess.ScrollIntoView(ctx, ".dot["), probe.ErrInvalidSelector)
		assert.False(t, probe.IsFatal(sess.Type(ctx, ".dot[", "x")))
	})

	t.Run("hit test sees overlays", func(t *testing.T) {
		require.NoError(t, sess.ScrollIntoView(ctx, "#box"))
		st, err := sess.Inspect(ctx, "#covered", nil)
		require.NoError(t, err)
		hit, err := sess.HitTest(ctx, "#covered", st.ClientRect.Center())
		require.NoError(t, err)
		assert.False(t, hit, "#overlay sits on top")

		st, err = sess.Inspect(ctx, "#overlay", nil)
		require.NoError(t, err)
		hit, err = sess.HitTest(ctx, "#overlay", st.ClientRect.Center())
		require.NoError(t, err)
		assert.True(t, hit)
	})

	t.Run("page state follows text and scroll", func(t *testing.T) {
		before, err := sess.PageState(ctx, "#box")
		require.NoError(t, err)
		assert.Len(t, before.TextHash, 8)
		require.NotNil(t, before.Container)

		require.NoError(t, sess.ScrollIntoView(ctx, "#far"))
		after, err := sess.PageState(ctx, "#box")
		require.NoError(t, err)
		assert.Equal(t, before.TextHash, after.TextHash)
		assert.Greater(t, after.ScrollY, before.ScrollY)
	})

	t.Run("screenshot is png", func(t *testing.T) {
		png, err := sess.Screenshot(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, []byte("\x89PNG"), png[:4])
	})

	t.Run("native viewport clears override", func(t *testing.T) {
		require.NoError(t, sess.SetViewport(ctx, schemas.ViewportSpec{Name: schemas.NativeViewportName}))
		vp, err := sess.Viewport(ctx)
		require.NoError(t, err)
		assert.Equal(t, schemas.NativeViewportName, vp.Name)
	})
}

func TestSession_NavigationFailure(t *testing.T) {
	sess, _ := newTestSession(t)
	err := sess.Navigate(context.Background(), "http://127.0.0.1:1/unreachable")
	require.Error(t, err)
	assert.True(t, errors.Is(err, probe.ErrNavigation) || errors.Is(err, probe.ErrBrowserSession))
	assert.True(t, probe.IsFatal(err))
}

func TestManager_ShutdownBeforeStart(t *testing.T) {
	mgr := browser.NewManager(config.BrowserConfig{Headless: true}, zaptest.NewLogger(t))
	assert.NoError(t, mgr.Shutdown(context.Background()))
}
