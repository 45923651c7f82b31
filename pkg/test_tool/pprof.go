package testtool

import (
	"net/http"
	_ "net/http/pprof" // 匯入後會自動註冊 pprof endpoint

	"trackus_chat/pkg/config"
	"trackus_chat/pkg/logger"

	"go.uber.org/zap"
)

// StartPprof 非 production 環境時在 127.0.0.1:6060 啟動 pprof
func StartPprof() {
	if config.IsProduction() {
		logger.Log.Info("Production environment detected, pprof is disabled.")
		return
	}

	go func() {
		logger.Log.Info("Starting pprof server on 127.0.0.1:6060")
		if err := http.ListenAndServe("127.0.0.1:6060", nil); err != nil {
			logger.Log.Warn("pprof server failed", zap.Error(err))
		}
	}()
}

// 	•	/debug/pprof/goroutine → 顯示所有 Goroutines, 用來確認訂閱 goroutine 是否有洩漏
// 	•	/debug/pprof/heap → 顯示記憶體分配
