package middleware

import (
	"net"
	"net/http"
)

// ClientKey はレート制限に使うクライアント識別子を返す。
// chiのRealIPミドルウェアで置き換えられたRemoteAddrからホスト部分を取り出す。
// ポートを含まない場合はRemoteAddrをそのまま使う。
func ClientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
