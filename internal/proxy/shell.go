package proxy

import "net/http"

// handleBrowser serves the embedded browser shell UI.
func (s *Server) handleBrowser(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(shellHTML))
}

// shellHTML is the iframe navigator. Its state machine: Idle ->
// CheckingSafety -> Loading -> Loaded | RateLimited | Failed(retrying),
// with a bounded blind-retry loop compensating for embedded sites (WebGL/
// canvas-heavy game clients in particular) that never fire onload through
// the rewriting proxy.
const shellHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Web Browser</title>
<style>
body { margin: 0; font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f0f2f5; display: flex; flex-direction: column; height: 100vh; }
#toolbar { display: flex; gap: 6px; padding: 8px; background: #ffffff; border-bottom: 1px solid #d1d5db; align-items: center; }
#toolbar button { padding: 6px 12px; border: 1px solid #d1d5db; border-radius: 6px; background: #f9fafb; cursor: pointer; }
#toolbar button:disabled { opacity: 0.4; cursor: default; }
#addr { flex: 1; padding: 8px 12px; border: 1px solid #9ca3af; border-radius: 6px; font-size: 14px; }
#status { padding: 4px 10px; font-size: 12px; color: #6b7280; background: #f9fafb; border-bottom: 1px solid #e5e7eb; min-height: 18px; }
#status.error { color: #dc2626; }
#progress { height: 3px; background: #2563eb; width: 0; transition: width 0.1s linear; }
#frame { flex: 1; border: none; width: 100%; background: #ffffff; }
#banner { display: none; padding: 14px; text-align: center; background: #fee2e2; color: #b91c1c; border-bottom: 1px solid #fca5a5; }
</style>
</head>
<body>
<div id="toolbar">
  <button id="btn-back" disabled>&#8592;</button>
  <button id="btn-fwd" disabled>&#8594;</button>
  <button id="btn-refresh">&#8635;</button>
  <button id="btn-home">&#8962;</button>
  <input id="addr" type="text" placeholder="Enter a URL...">
  <button id="btn-go">Go</button>
</div>
<div id="progress"></div>
<div id="status">Ready</div>
<div id="banner"></div>
<iframe id="frame" sandbox="allow-scripts allow-same-origin allow-forms allow-pointer-lock"></iframe>
<script>
(function() {
  'use strict';
  var PROXY = '/api/proxy/web';
  var CHECK = '/api/proxy/check';
  var COUNTDOWN_MS = 2000;
  var TICK_MS = 100;
  var MAX_RETRIES = 2;
  var MONITOR_MS = 5000;

  var state = 'idle';
  var history = [];
  var historyIndex = -1;
  var retryCount = 0;
  var countdownTimer = null;
  var monitorTimer = null;
  var lastNavAt = 0;
  var navTimes = [];

  var frame = document.getElementById('frame');
  var addr = document.getElementById('addr');
  var statusEl = document.getElementById('status');
  var banner = document.getElementById('banner');
  var progress = document.getElementById('progress');
  var btnBack = document.getElementById('btn-back');
  var btnFwd = document.getElementById('btn-fwd');

  function setStatus(text, isError) {
    statusEl.textContent = text;
    statusEl.className = isError ? 'error' : '';
  }

  function clearTimers() {
    if (countdownTimer) { clearInterval(countdownTimer); countdownTimer = null; }
    if (monitorTimer) { clearInterval(monitorTimer); monitorTimer = null; }
    progress.style.width = '0';
  }

  function proxyURL(u) { return PROXY + '?url=' + encodeURIComponent(u); }

  function throttled() {
    var now = Date.now();
    if (now - lastNavAt < 1000) return true;
    navTimes = navTimes.filter(function(t) { return now - t < 60000; });
    if (navTimes.length >= 20) return true;
    lastNavAt = now;
    navTimes.push(now);
    return false;
  }

  function updateNav() {
    btnBack.disabled = historyIndex <= 0;
    btnFwd.disabled = historyIndex >= history.length - 1;
  }

  function normalize(input) {
    input = input.trim();
    if (!input) return null;
    if (!/^https?:\/\//i.test(input)) input = 'https://' + input;
    return input;
  }

  function navigate(input) {
    var u = normalize(input);
    if (!u) return;
    if (throttled()) { setStatus('Slow down: too many requests', true); return; }

    state = 'checking';
    setStatus('Checking URL...');
    fetch(CHECK + '?url=' + encodeURIComponent(u))
      .then(function(r) { return r.json(); })
      .then(function(res) {
        if (!res.safe) {
          state = 'idle';
          setStatus('Blocked: ' + (res.reason || 'unsafe URL'), true);
          return;
        }
        // New navigation truncates any forward history past the cursor.
        history = history.slice(0, historyIndex + 1);
        history.push(u);
        historyIndex = history.length - 1;
        updateNav();
        load(u);
      })
      .catch(function() {
        state = 'idle';
        setStatus('Safety check failed', true);
      });
  }

  function load(u) {
    clearTimers();
    banner.style.display = 'none';
    retryCount = 0;
    addr.value = u;
    startLoad(u);
  }

  function startLoad(u) {
    state = 'loading';
    setStatus('Loading' + (retryCount > 0 ? ' (retry ' + retryCount + ')' : '') + '...');

    var elapsed = 0;
    var done = false;

    frame.onload = function() {
      if (done) return;
      done = true;
      clearTimers();
      state = 'loaded';
      setStatus('Loaded ' + u);
      startMonitor(u);
    };

    frame.src = proxyURL(u) + (retryCount > 0 ? '&retry=' + retryCount : '');

    countdownTimer = setInterval(function() {
      elapsed += TICK_MS;
      progress.style.width = Math.min(100, elapsed / COUNTDOWN_MS * 100) + '%';
      if (elapsed < COUNTDOWN_MS) return;
      clearInterval(countdownTimer);
      countdownTimer = null;
      if (done) return;
      done = true;

      // onload never fired: probe for rate limiting before blindly
      // retrying.
      probeRateLimit(u).then(function(limited) {
        if (limited) { enterRateLimited(limited); return; }
        if (retryCount < MAX_RETRIES) {
          retryCount++;
          startLoad(u);
        } else {
          state = 'loaded';
          setStatus('This page may not be compatible with the proxy', true);
          startMonitor(u);
        }
      });
    }, TICK_MS);
  }

  function probeRateLimit(u) {
    return fetch(proxyURL(u), { method: 'GET' })
      .then(function(r) {
        if (r.status === 429) {
          var reason = r.headers.get('X-Block-Reason');
          return reason || 'Rate limit exceeded';
        }
        return null;
      })
      .catch(function() { return null; });
  }

  function startMonitor(u) {
    if (monitorTimer) clearInterval(monitorTimer);
    monitorTimer = setInterval(function() {
      probeRateLimit(u).then(function(limited) {
        if (limited) enterRateLimited(limited);
      });
    }, MONITOR_MS);
  }

  function enterRateLimited(reason) {
    clearTimers();
    state = 'ratelimited';
    frame.src = 'about:blank';
    history = [];
    historyIndex = -1;
    updateNav();
    banner.textContent = 'Rate limited: ' + reason;
    banner.style.display = 'block';
    setStatus('Rate limited', true);
  }

  document.getElementById('btn-go').addEventListener('click', function() { navigate(addr.value); });
  addr.addEventListener('keydown', function(ev) { if (ev.key === 'Enter') navigate(addr.value); });

  document.getElementById('btn-back').addEventListener('click', function() {
    if (historyIndex > 0) { historyIndex--; updateNav(); load(history[historyIndex]); }
  });
  document.getElementById('btn-fwd').addEventListener('click', function() {
    if (historyIndex < history.length - 1) { historyIndex++; updateNav(); load(history[historyIndex]); }
  });
  document.getElementById('btn-refresh').addEventListener('click', function() {
    if (historyIndex >= 0) load(history[historyIndex]);
  });
  document.getElementById('btn-home').addEventListener('click', function() {
    clearTimers();
    state = 'idle';
    frame.src = 'about:blank';
    addr.value = '';
    banner.style.display = 'none';
    setStatus('Ready');
  });

  window.addEventListener('beforeunload', clearTimers);
})();
</script>
</body>
</html>
`
