package server

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"os"

	"github.com/onnwee/request-tender/queue"
)

// defaultOverlayHTML is the built-in stream overlay. It polls /overlay/data
// and renders the current and next level. OVERLAY_TEMPLATE overrides it with
// a custom template file.
const defaultOverlayHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Request Queue</title>
<style>
  body { margin: 0; font-family: sans-serif; color: #fff; background: transparent; }
  .panel { background: rgba(0,0,0,0.7); border-radius: 8px; padding: 12px 16px; max-width: 420px; }
  .current { font-size: 1.3em; font-weight: bold; }
  .meta { font-size: 0.85em; opacity: 0.8; }
  .next { margin-top: 8px; font-size: 0.95em; }
  .empty { font-style: italic; opacity: 0.7; }
</style>
</head>
<body>
<div class="panel" id="panel">loading…</div>
<script>
async function refresh() {
  try {
    const res = await fetch('/overlay/data');
    const d = await res.json();
    const panel = document.getElementById('panel');
    if (d.empty) {
      panel.innerHTML = '<div class="empty">queue is empty</div>';
      return;
    }
    let html = '<div class="current">' + d.current.level_name + ' (' + d.current.level_id + ')</div>' +
      '<div class="meta">by ' + d.current.author + ' · requested by ' + d.current.requester + '</div>';
    if (d.next) {
      html += '<div class="next">next: ' + d.next.level_name + ' (' + d.next.level_id + ')</div>';
    }
    html += '<div class="meta">' + d.total + ' in queue</div>';
    panel.innerHTML = html;
  } catch (e) { /* retry on next tick */ }
}
refresh();
setInterval(refresh, 3000);
</script>
</body>
</html>
`

// customOverlayHTML embeds an operator-supplied template and substitutes its
// variables client-side against /overlay/data on every poll. Recognized
// variables: {level} {author} {id} {requester}, the next-* forms of the same
// ({next-level} etc.), and {count}.
const customOverlayHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Request Queue</title>
<style>
  body { margin: 0; font-family: sans-serif; color: #fff; background: transparent; }
</style>
</head>
<body>
<div id="panel"></div>
<script>
const tpl = {{.}};
function sub(text, item, prefix) {
  const it = item || {level_name: '', level_id: '', author: '', requester: ''};
  return text
    .replaceAll('{' + prefix + 'level}', it.level_name)
    .replaceAll('{' + prefix + 'id}', it.level_id)
    .replaceAll('{' + prefix + 'author}', it.author)
    .replaceAll('{' + prefix + 'requester}', it.requester);
}
async function refresh() {
  try {
    const res = await fetch('/overlay/data');
    const d = await res.json();
    let text = sub(tpl, d.current, '');
    text = sub(text, d.next, 'next-');
    text = text.replaceAll('{count}', d.total);
    document.getElementById('panel').innerHTML = text;
  } catch (e) { /* retry on next tick */ }
}
refresh();
setInterval(refresh, 3000);
</script>
</body>
</html>
`

// buildOverlayPage renders the overlay page once. With no custom template
// configured the built-in page is served as-is; otherwise the template file's
// text is baked into the substitution shell.
func buildOverlayPage(path string) (string, error) {
	if path == "" {
		return defaultOverlayHTML, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New("overlay").Parse(customOverlayHTML)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, string(raw)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// HandleOverlay serves the browser-source overlay page.
func (h *Handlers) HandleOverlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	page, err := h.overlayPage()
	if err != nil {
		slog.Error("overlay template load failed", slog.Any("err", err))
		http.Error(w, "overlay template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

// overlayData is the compact payload the overlay polls.
type overlayData struct {
	Empty   bool        `json:"empty"`
	Current *queue.Item `json:"current,omitempty"`
	Next    *queue.Item `json:"next,omitempty"`
	Total   int         `json:"total"`
}

// HandleOverlayData returns the head of the queue for the overlay.
func (h *Handlers) HandleOverlayData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items := h.queue.Snapshot()
	d := overlayData{Empty: len(items) == 0, Total: len(items)}
	if len(items) > 0 {
		d.Current = &items[0]
	}
	if len(items) > 1 {
		d.Next = &items[1]
	}
	writeJSON(w, http.StatusOK, d)
}
