package collab

import (
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

// eventEnvelope 统一两类事件的 Kafka 载荷，按 kind 区分
type eventEnvelope struct {
	Kind     string         `json:"kind"` // "doc_op" | "presence"
	DocID    string         `json:"docId"`
	Op       *DocOpEvent    `json:"op,omitempty"`
	Presence *PresenceEvent `json:"presence,omitempty"`
}

// KafkaDispatcher：本地有界队列 + worker 异步发送 + 有限重试。
// 目标：
// - 不阻塞主提交流程（Notify* 只负责入队，队列满直接丢弃）
// - Kafka 短暂阻塞时靠队列吸收，后台慢慢补发
// - 事件流不要求强一致性，不是每个事件都必须送达
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan eventEnvelope

	// sem 限制并发的 SendMessage 数量
	sendSem *SemaphoreControl

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type KafkaDispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewKafkaDispatcher(producer sarama.SyncProducer, topic string, sendSem *SemaphoreControl, opt KafkaDispatcherOptions) *KafkaDispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1024
	}
	if opt.Workers <= 0 {
		opt.Workers = 2
	}
	if opt.BaseBackoff <= 0 {
		opt.BaseBackoff = 100 * time.Millisecond
	}
	if opt.MaxBackoff <= 0 {
		opt.MaxBackoff = 2 * time.Second
	}
	d := &KafkaDispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan eventEnvelope, opt.QueueSize),
		sendSem:     sendSem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}

	d.Start()
	return d
}

// NotifyOpApplied 入队即返回，绝不阻塞 Apply
func (d *KafkaDispatcher) NotifyOpApplied(evt DocOpEvent) {
	d.enqueue(eventEnvelope{Kind: "doc_op", DocID: evt.DocID, Op: &evt})
}

func (d *KafkaDispatcher) NotifyPresence(evt PresenceEvent) {
	d.enqueue(eventEnvelope{Kind: "presence", DocID: evt.DocID, Presence: &evt})
}

func (d *KafkaDispatcher) enqueue(env eventEnvelope) {
	select {
	case d.queue <- env:
	default:
		// 队列满：降级丢弃，避免内存无限增长
		log.Printf("kafka queue full, drop %s event doc=%s", env.Kind, env.DocID)
	}
}

func (d *KafkaDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *KafkaDispatcher) workerLoop(workerID int) {
	for env := range d.queue {
		d.sendWithRetry(workerID, env)
	}
}

func (d *KafkaDispatcher) sendWithRetry(workerID int, env eventEnvelope) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sendSem != nil {
			// worker 允许一直等待（不会影响主链路）
			_ = d.sendSem.AcquireBlocking()
		}

		err := d.sendOnce(env)

		if d.sendSem != nil {
			_ = d.sendSem.Release()
		}

		if err == nil {
			return
		}

		if attempt == d.maxRetry {
			log.Printf("kafka send failed, drop %s event doc=%s worker=%d err=%v",
				env.Kind, env.DocID, workerID, err)
			return
		}

		// 退避，每次退避时间X2
		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *KafkaDispatcher) sendOnce(env eventEnvelope) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		// 按文档分区，同一文档的事件保持有序
		Key:   sarama.StringEncoder(env.DocID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
