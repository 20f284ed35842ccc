package main

import (
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/mhbvr/photolib/libloadtest/loadgen"
	"github.com/mhbvr/photolib/libloadtest/worker"
)

type WebHandler struct {
	loadGen  *loadgen.LoadGen
	metrics  *Metrics
	loadName string
	template *template.Template
}

func NewWebHandler(loadGen *loadgen.LoadGen, metrics *Metrics, loadName string) *WebHandler {
	tmpl := template.Must(template.New("index").Parse(indexTemplate))
	return &WebHandler{
		loadGen:  loadGen,
		metrics:  metrics,
		loadName: loadName,
		template: tmpl,
	}
}

func (wh *WebHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	info, err := wh.loadGen.GetInfo()
	if err != nil {
		http.Error(w, "Failed to get load generator info: "+err.Error(), http.StatusInternalServerError)
		return
	}

	okCount, errCount, err := wh.metrics.Counts()
	if err != nil {
		http.Error(w, "Failed to read counters: "+err.Error(), http.StatusInternalServerError)
		return
	}

	data := struct {
		LoadName    string
		LoadOptions map[string]string
		StartTime   time.Time
		MaxInFlight int
		Config      *worker.WorkerConfig
		OkRequests  int
		ErrRequests int
	}{
		LoadName:    wh.loadName,
		LoadOptions: wh.loadGen.LoadOptions(),
		StartTime:   info.StartTime,
		MaxInFlight: info.MaxInFlight,
		Config:      info.WorkerCfg,
		OkRequests:  okCount,
		ErrRequests: errCount,
	}

	w.Header().Set("Content-Type", "text/html")
	if err := wh.template.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func (wh *WebHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var err error

	if err = r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form: "+err.Error(), http.StatusBadRequest)
		return
	}

	cfg := &worker.WorkerConfig{}

	// Update inflight
	if inflightStr := r.FormValue("inflight"); inflightStr != "" {
		if cfg.InFlight, err = strconv.Atoi(inflightStr); err != nil {
			http.Error(w, "Failed to parse inflight: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	cfg.Mode = r.FormValue("mode")
	if cfg.Mode == "" {
		http.Error(w, "mode is empty", http.StatusBadRequest)
		return
	}

	// Update QPS
	if qpsStr := r.FormValue("qps"); qpsStr != "" {
		if cfg.Qps, err = strconv.ParseFloat(qpsStr, 64); err != nil {
			http.Error(w, "Failed to parse qps: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	// Update timeout
	if timeoutStr := r.FormValue("timeout"); timeoutStr != "" {
		if cfg.Timeout, err = time.ParseDuration(timeoutStr); err != nil {
			http.Error(w, "Failed to parse timeout: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	err = wh.loadGen.SetConfig(cfg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

const indexTemplate = `
<!DOCTYPE html>
<html>
<head>
    <title>Library Load Generator Control Panel</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .container { max-width: 800px; margin: 0 auto; }
        .section { margin: 20px 0; padding: 15px; border: 1px solid #ddd; border-radius: 5px; }
        .stats { background-color: #f5f5f5; }
        .controls { background-color: #fff; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 8px; border-bottom: 1px solid #ddd; }
        input, select { margin: 5px; padding: 5px; }
        button { background-color: #007cba; color: white; padding: 10px 20px; border: none; border-radius: 3px; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .refresh-link { color: #007cba; text-decoration: none; }
        .refresh-link:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Photo Library Load Generator Control Panel</h1>

        <div class="section stats">
            <h2>Statistics</h2>
            <table>
                <tbody>
                    <tr>
                        <th>Load</th>
                        <td>{{.LoadName}}</td>
                    </tr>
                    <tr>
                        <th>Start Time</th>
                        <td>{{.StartTime.Format "15:04:05"}}</td>
                    </tr>
                    <tr>
                        <th>In-Flight</th>
                        <td>{{.Config.InFlight}}</td>
                    </tr>
                    <tr>
                        <th>Successful Operations</th>
                        <td>{{.OkRequests}}</td>
                    </tr>
                    <tr>
                        <th>Failed Operations</th>
                        <td>{{.ErrRequests}}</td>
                    </tr>
                </tbody>
            </table>
            <p><a href="/" class="refresh-link">Refresh Now</a> | <a href="/metrics" class="refresh-link">Prometheus Metrics</a> | <a href="/tracez" class="refresh-link">Traces</a></p>
        </div>

        <div class="section controls">
            <h2>Configuration</h2>
            <form method="post" action="/update">
                <table>
                    <tr>
                        <th>In-Flight Operations</th>
                        <td><input type="number" name="inflight" value="{{.Config.InFlight}}" min="0" max="{{.MaxInFlight}}"></td>
                    </tr>
                    <tr>
                        <th>Mode</th>
                        <td>
                            <select name="mode">
                                <option value="asap" {{if eq .Config.Mode "asap"}}selected{{end}}>ASAP (Max Speed)</option>
                                <option value="stable" {{if eq .Config.Mode "stable"}}selected{{end}}>Stable Interval</option>
                                <option value="exponential" {{if eq .Config.Mode "exponential"}}selected{{end}}>Exponential Distribution</option>
                            </select>
                        </td>
                    </tr>
                    <tr>
                        <th>Target QPS</th>
                        <td><input type="number" name="qps" value="{{.Config.Qps}}" min="0" step="0.1"></td>
                    </tr>
                    <tr>
                        <th>Operation Timeout</th>
                        <td><input type="text" name="timeout" value="{{.Config.Timeout}}"></td>
                    </tr>
                </table>
                <button type="submit">Update Configuration</button>
            </form>
        </div>

        <div class="section">
            <h2>Load Options (set at startup with -load-options)</h2>
            <table>
                <tbody>
                    {{range $name, $desc := .LoadOptions}}
                    <tr>
                        <th>{{$name}}</th>
                        <td>{{$desc}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
            <ul>
                <li><strong>In-Flight Operations:</strong> Limit of concurrent library operations</li>
                <li><strong>ASAP Mode:</strong> Issue operations as fast as possible (limited only by In-Flight)</li>
                <li><strong>Stable Interval:</strong> Issue operations at regular intervals based on Target QPS</li>
                <li><strong>Exponential Distribution:</strong> Issue operations with exponentially distributed intervals (average = Target QPS)</li>
                <li><strong>Operation Timeout:</strong> Maximum time to wait for each operation (e.g., "10s", "500ms")</li>
            </ul>
        </div>
    </div>
</body>
</html>
`
