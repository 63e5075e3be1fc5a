package snapshot

// SourceReader reads a service's source by its logical entry path. The
// on-disk service source packages live outside this module; the builder
// only depends on this narrow interface.
type SourceReader interface {
	ReadEntry(entry string) ([]byte, error)
}

// sdkRuntimeSource is concatenated ahead of every service's body before
// hashing and bundling. It is a fixed string for a given
// CurrentSDKSchemaVersion; bumping the SDK runtime requires bumping
// CurrentSDKSchemaVersion so cached snapshots correctly treat themselves
// as stale.
//
// The shim reads the sandbox's stdin payload to EOF, exposes a global
// defineService(def) a service body calls to register its handlers
// ({onCommand, onCallback, onMessage}, one per sdk.EventKind), then
// dispatches to the handler matching event.type once the service body
// has finished evaluating (setImmediate runs after the synchronous
// node -e script body, so defineService has always been called by
// then) and writes the single JSON response to stdout, per §4.3/§4.5.
const sdkRuntimeSource = `// chatrouter sdk runtime v1
(function () {
  var fs = require('fs');
  var rawPayload;
  try {
    rawPayload = fs.readFileSync(0, 'utf8');
  } catch (err) {
    process.stdout.write(JSON.stringify({kind: 'error', message: 'stdin read failed: ' + err.message}));
    return;
  }

  var payload;
  try {
    payload = JSON.parse(rawPayload);
  } catch (err) {
    process.stdout.write(JSON.stringify({kind: 'error', message: 'bad payload: ' + err.message}));
    return;
  }

  global.__chatrouter_service = null;
  global.defineService = function (def) {
    global.__chatrouter_service = def;
  };

  function respond(resp) {
    process.stdout.write(JSON.stringify(resp || {kind: 'none'}));
  }

  function messageForError(err) {
    if (err && err.message) return String(err.message);
    return String(err);
  }

  setImmediate(function () {
    var svc = global.__chatrouter_service;
    if (!svc) {
      respond({kind: 'none'});
      return;
    }

    var event = payload.event || {};
    var ctx = payload.ctx || {};
    var handler;
    switch (event.type) {
      case 'command':
        handler = svc.onCommand;
        break;
      case 'callback':
        handler = svc.onCallback;
        break;
      case 'message':
        handler = svc.onMessage;
        break;
      default:
        handler = null;
    }

    if (typeof handler !== 'function') {
      respond({kind: 'none'});
      return;
    }

    try {
      var result = handler(event, ctx);
      if (result && typeof result.then === 'function') {
        result.then(respond, function (err) {
          respond({kind: 'error', message: messageForError(err)});
        });
      } else {
        respond(result);
      }
    } catch (err) {
      respond({kind: 'error', message: messageForError(err)});
    }
  });
})();

// --- service body follows ---
`

// SDKRuntimeSource returns the runtime shim source bundled with every
// service: it reads the sandbox's stdin payload, dispatches to the
// service's registered handler by event.type, and writes the response
// to stdout, per §4.3/§4.5. A service source is expected to call the
// shim's global defineService({onCommand, onCallback, onMessage})
// exactly once.
func SDKRuntimeSource() string {
	return sdkRuntimeSource
}
