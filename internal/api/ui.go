package api

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Download center</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    header{margin-bottom:24px}
    h1{font-size:22px;margin:0 0 8px}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap}
    .btn{display:inline-block;background:#b3261e;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    input[type=text]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px;width:100%}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .list{margin:0;padding-left:18px}
  </style>
</head>
<body>
  <header>
    <h1>Download center</h1>
    <div class="muted">Queue state and site routing</div>
  </header>
  {{if .Notice}}
  <div class="card"><span class="muted">{{.Notice}}</span></div>
  {{end}}
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  <div class="card">
    <h2>Queue</h2>
    <div>Waiting: <strong>{{.Waiting}}</strong></div>
    <div>Running: <strong>{{.Running}}</strong></div>
  </div>

  <div class="card">
    <h2>Cancel download</h2>
    <form method="post" action="/ui/cancel">
      <div class="row">
        <input type="text" name="task_id" placeholder="Task ID" required />
        <button class="btn" type="submit">Cancel</button>
      </div>
    </form>
    <div class="muted">POST /download/cancel</div>
  </div>

  <div class="card">
    <h2>Active sites</h2>
    {{if .Sites}}
    <ul class="list">
      {{range .Sites}}<li class="mono">{{.}}{{if index $.Auth .}} · auth{{end}}</li>{{end}}
    </ul>
    {{else}}
    <div class="muted">No sites configured</div>
    {{end}}
  </div>
</body>
</html>
{{end}}
`))

// RegisterUIRoutes registers a minimal no-JS status page
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/cancel", a.UICancel)
}

// UIHome renders queue counters and active sites
func (a *API) UIHome(c *gin.Context) {
	c.HTML(http.StatusOK, "layout", a.uiState(gin.H{}))
}

// UICancel flags a task from the form and renders the page again
func (a *API) UICancel(c *gin.Context) {
	raw := strings.TrimSpace(c.PostForm("task_id"))
	taskID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || taskID <= 0 {
		c.HTML(http.StatusBadRequest, "layout", a.uiState(gin.H{"Error": "task id must be a positive number"}))
		return
	}
	notice := "task " + raw + " is not running"
	if a.service.CancelTask(taskID) {
		notice = "cancel requested for task " + raw
	}
	c.HTML(http.StatusOK, "layout", a.uiState(gin.H{"Notice": notice}))
}

func (a *API) uiState(data gin.H) gin.H {
	waiting, running := a.service.Counts()
	auth := make(map[string]bool)
	for _, site := range a.service.SitesWithAuth() {
		auth[site] = true
	}
	data["Waiting"] = waiting
	data["Running"] = running
	data["Sites"] = a.service.SitesActive()
	data["Auth"] = auth
	return data
}
