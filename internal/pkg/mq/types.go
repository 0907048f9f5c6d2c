package mq

// ConsumerState 消费者生命周期，Stopping 由拉取循环负责收尾
type ConsumerState int32

const (
	StateStopped ConsumerState = iota
	StateStarting
	StateRunning
	StateStopping
)

var consumerStateNames = [...]string{"stopped", "starting", "running", "stopping"}

func (s ConsumerState) String() string {
	if s < 0 || int(s) >= len(consumerStateNames) {
		return "unknown"
	}
	return consumerStateNames[s]
}
