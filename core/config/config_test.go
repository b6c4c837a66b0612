package config

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Load", func() {
	BeforeEach(func() {
		os.Clearenv()
	})

	It("requires the database url", func() {
		_, err := Load()
		Expect(err).To(MatchError(ContainSubstring("MONGO_URL")))
	})

	It("applies defaults around the required settings", func() {
		os.Setenv("MONGO_URL", "mongodb://localhost:27017")

		cfg, err := Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Env).To(Equal("development"))
		Expect(cfg.Port).To(Equal("8080"))
		Expect(cfg.Mongo.Database).To(Equal("ripple"))
		Expect(cfg.Engine.CheckpointFlushDelay).To(Equal(100 * time.Millisecond))
		Expect(cfg.Engine.CheckpointMaxPending).To(Equal(1000))
		Expect(cfg.Engine.StageTimeout).To(Equal(30 * time.Second))
		Expect(cfg.Alerts.OnReplay).To(BeFalse())
		Expect(cfg.Alerts.WebhookURLs).To(BeEmpty())
	})

	It("parses the webhook list and tuning knobs", func() {
		os.Setenv("MONGO_URL", "mongodb://localhost:27017")
		os.Setenv("ALERT_WEBHOOK_URLS", "https://a.example/hook, https://b.example/hook")
		os.Setenv("ALERTS_ON_REPLAY", "true")
		os.Setenv("STAGE_TIMEOUT", "5s")
		os.Setenv("CHECKPOINT_MAX_PENDING", "50")

		cfg, err := Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Alerts.WebhookURLs).To(Equal([]string{"https://a.example/hook", "https://b.example/hook"}))
		Expect(cfg.Alerts.OnReplay).To(BeTrue())
		Expect(cfg.Engine.StageTimeout).To(Equal(5 * time.Second))
		Expect(cfg.Engine.CheckpointMaxPending).To(Equal(50))
	})

	It("keeps defaults when a knob fails to parse", func() {
		os.Setenv("MONGO_URL", "mongodb://localhost:27017")
		os.Setenv("CHECKPOINT_MAX_PENDING", "lots")

		cfg, err := Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Engine.CheckpointMaxPending).To(Equal(1000))
	})
})
