package main

import (
	"flag"
	"log"
	"net/http"
	"os"
)

// DebugMode is set from -debug or the DEBUG environment variable; when on,
// main logs that debug mode is enabled (§10 ambient stack).
var DebugMode bool

func main() {
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	DebugMode = *debug
	if v := os.Getenv("DEBUG"); v != "" {
		DebugMode = v == "true" || v == "1" || v == "yes"
	}
	if DebugMode {
		log.Println("debug mode enabled")
	}

	config, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Printf("loaded %d bookmarks", len(config.Bookmarks))

	dsp := NewDSPEngine()
	if err := dsp.SetMode(Mode(config.DSP.Mode)); err != nil {
		log.Fatalf("invalid default mode %q: %v", config.DSP.Mode, err)
	}
	dsp.SetSquelch(config.DSP.SquelchThreshold)

	tuner := NewTunerClient(config.Tuner.Host, config.Tuner.Port)

	var metrics *Metrics
	if config.Prometheus.Enabled {
		metrics = NewMetrics()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("prometheus metrics listening on %s", config.Prometheus.Listen)
			if err := http.ListenAndServe(config.Prometheus.Listen, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	pocsag := NewPocsagDecoder(audioRate, metrics)

	var mqttPub *MQTTPublisher
	if config.MQTT.Enabled {
		mqttPub, err = NewMQTTPublisher(config.MQTT)
		if err != nil {
			log.Printf("mqtt: %v (continuing without republishing)", err)
			mqttPub = nil
		} else {
			defer mqttPub.Disconnect()
		}
	}

	var srv *Server
	pipeline := NewPipeline(tuner, dsp, pocsag, metrics, PipelineHooks{
		OnFrame: func(frame PipelineFrame) {
			if srv != nil {
				srv.BroadcastFrame(frame)
			}
			if mqttPub != nil {
				for _, msg := range frame.Pocsag {
					mqttPub.PublishPocsag(msg)
				}
			}
		},
		OnConnection: func(connected bool, state TunerState) {
			if srv != nil {
				srv.BroadcastConnection(connected, state)
			}
		},
	}, config.Tuner.CenterFreq)
	pipeline.SetPocsagEnabled(config.Decoder.PocsagEnabled)

	scanner := NewScanner(dsp, ScannerHooks{
		OnTune: func(freq uint64, mode Mode) error {
			return pipeline.Retune(freq, mode)
		},
		OnStatus: func(status ScanStatus) {
			if metrics != nil {
				metrics.ObserveScanTransition(status.State)
			}
			if srv != nil {
				srv.BroadcastScanStatus(status)
			}
			if mqttPub != nil {
				mqttPub.PublishScanStatus(status)
			}
		},
	})
	scanner.SetDwell(config.Scanner.DwellMS)
	scanner.SetResumeDelay(config.Scanner.ResumeDelay)
	scanner.SetSquelch(config.DSP.SquelchThreshold)

	srv = NewServer(config, tuner, dsp, scanner, pipeline)

	pipeline.Start()
	defer pipeline.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	log.Printf("listening on %s", config.Server.Listen)
	if err := http.ListenAndServe(config.Server.Listen, mux); err != nil {
		log.Fatalf("server: %v", err)
	}
}
