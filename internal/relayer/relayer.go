package relayer

import (
	"context"
	"time"

	"SolMixer/utils"
)

// Relayer 长驻轮询进程：每个周期先跑检测子循环，再跑推进子循环，然后睡一个
// 固定间隔。周期内交易顺序处理（I/O 密集、量不大）；单笔交易的外部调用有
// 引擎层的超时兜底，卡住的调用不会饿死整批。
type Relayer struct {
	engine   *Engine
	interval time.Duration
	log      *utils.Logger
	done     chan struct{}
}

func New(engine *Engine, interval time.Duration) *Relayer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Relayer{
		engine:   engine,
		interval: interval,
		log:      utils.DefaultLogger,
		done:     make(chan struct{}),
	}
}

// Start 跑轮询主循环直到 ctx 取消。收到取消信号后让当前迭代里在途的外部
// 调用走完（或超时），不会把半截转移写进库。
func (r *Relayer) Start(ctx context.Context) {
	defer close(r.done)
	r.log.Info("relayer 启动，轮询间隔 %s", r.interval)

	for {
		r.engine.DetectDeposits(ctx)
		r.engine.AdvanceAll(ctx)

		select {
		case <-ctx.Done():
			r.log.Info("relayer 停止")
			return
		case <-time.After(r.interval):
		}
	}
}

// Wait 阻塞到轮询循环完全退出（优雅关闭用）
func (r *Relayer) Wait() {
	<-r.done
}
