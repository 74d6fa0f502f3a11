package rewrite

import (
	"net/url"
	"strings"
)

// clientRuntime renders the script injected into every proxied HTML page.
// It reroutes the dynamic escape hatches the static rewriter cannot see:
// fetch/XHR/WebSocket construction, window.open, location navigation, form
// submissions, and anchor clicks.
func (r *Rewriter) clientRuntime(base *url.URL) string {
	return strings.NewReplacer(
		"{{PROXY_PATH}}", r.proxyPath,
		"{{BASE_URL}}", base.String(),
	).Replace(runtimeJS)
}

const runtimeJS = `
(function() {
  'use strict';
  var PROXY = '{{PROXY_PATH}}';
  var BASE = '{{BASE_URL}}';

  function toAbs(u) {
    try { return new URL(u, BASE).href; } catch (e) { return null; }
  }

  function shouldSkip(u) {
    if (!u) return true;
    u = String(u);
    if (/^(javascript|data|blob|file|ftp|mailto|tel|about):/i.test(u)) return true;
    if (u.indexOf(PROXY) === 0) return true;
    if (u.indexOf(location.origin + PROXY) === 0) return true;
    return false;
  }

  function prox(u) {
    if (shouldSkip(u)) return u;
    var abs = toAbs(u);
    if (!abs || !/^https?:/i.test(abs)) return u;
    return PROXY + '?url=' + encodeURIComponent(abs);
  }

  var origFetch = window.fetch;
  window.fetch = function(input, init) {
    try {
      if (typeof input === 'string') {
        input = prox(input);
      } else if (input && input.url) {
        input = new Request(prox(input.url), input);
      }
    } catch (e) {}
    return origFetch.call(this, input, init);
  };

  var origOpen = XMLHttpRequest.prototype.open;
  XMLHttpRequest.prototype.open = function(method, url) {
    try { arguments[1] = prox(url); } catch (e) {}
    return origOpen.apply(this, arguments);
  };

  var OrigWS = window.WebSocket;
  if (OrigWS) {
    window.WebSocket = function(url, protocols) {
      try {
        url = String(url).replace(/^ws:\/\//i, 'wss://');
      } catch (e) {}
      return protocols !== undefined ? new OrigWS(url, protocols) : new OrigWS(url);
    };
    window.WebSocket.prototype = OrigWS.prototype;
    window.WebSocket.CONNECTING = OrigWS.CONNECTING;
    window.WebSocket.OPEN = OrigWS.OPEN;
    window.WebSocket.CLOSING = OrigWS.CLOSING;
    window.WebSocket.CLOSED = OrigWS.CLOSED;
  }

  // Keep the framed page from escaping or navigating the parent.
  window.open = function() { return null; };
  try { location.assign = function() {}; } catch (e) {}
  try { location.replace = function() {}; } catch (e) {}
  try { location.reload = function() {}; } catch (e) {}
  try {
    Object.defineProperty(window.location, 'href', {
      set: function() {}, get: function() { return BASE; }
    });
  } catch (e) {}

  document.addEventListener('submit', function(ev) {
    var form = ev.target;
    if (!form || form.tagName !== 'FORM') return;
    var action = form.getAttribute('action') || BASE;
    if (shouldSkip(action) && action.indexOf(PROXY) !== 0) return;
    ev.preventDefault();
    var abs = action.indexOf(PROXY) === 0
      ? decodeURIComponent(action.split('?url=')[1] || '')
      : toAbs(action);
    if (!abs) return;
    var method = (form.method || 'get').toUpperCase();
    var data = new FormData(form);
    if (method === 'GET') {
      var qs = new URLSearchParams(data).toString();
      var sep = abs.indexOf('?') >= 0 ? '&' : '?';
      window.location = PROXY + '?url=' + encodeURIComponent(abs + (qs ? sep + qs : ''));
    } else {
      origFetch(PROXY + '?url=' + encodeURIComponent(abs), { method: 'POST', body: data })
        .then(function(resp) { return resp.text(); })
        .then(function(text) {
          try { document.open(); document.write(text); document.close(); } catch (e) {}
        });
    }
  }, true);

  document.addEventListener('click', function(ev) {
    var a = ev.target && ev.target.closest ? ev.target.closest('a') : null;
    if (!a) return;
    var href = a.getAttribute('href');
    if (!href || href.charAt(0) === '#') return;
    if (shouldSkip(href)) return;
    var abs = toAbs(href);
    if (!abs || !/^https?:/i.test(abs)) return;
    ev.preventDefault();
    window.location = PROXY + '?url=' + encodeURIComponent(abs);
  }, true);
})();
`
