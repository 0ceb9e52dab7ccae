package api

// Download Station V4 endpoint paths. The three torrent-upload paths exist
// because firmware revisions renamed the operation without retiring the old
// routes; AddTorrent walks them in order.
const (
	pathLogin = "/downloadstation/V4/Misc/Login"
	pathProbe = "/cgi-bin/authLogin.cgi"

	pathTaskQuery  = "/downloadstation/V4/Task/Query"
	pathTaskAddURL = "/downloadstation/V4/Task/AddUrl"
	pathTaskStart  = "/downloadstation/V4/Task/Start"
	pathTaskStop   = "/downloadstation/V4/Task/Stop"
	pathTaskRemove = "/downloadstation/V4/Task/Remove"

	pathTaskAddTorrent = "/downloadstation/V4/Task/AddTorrent"
	pathTaskAddTask    = "/downloadstation/V4/Task/AddTask"
	pathTaskAddLegacy  = "/downloadstation/V4/Task/Add"
)

// unprotectedPaths are reachable without a session id.
var unprotectedPaths = []string{pathLogin, pathProbe}
