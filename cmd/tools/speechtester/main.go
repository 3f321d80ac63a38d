package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/gyb-chat/backend/internal/config"
	speechmodel "github.com/zhouzirui/gyb-chat/backend/internal/model/speech"
	"github.com/zhouzirui/gyb-chat/backend/internal/service/speech"
	"github.com/zhouzirui/gyb-chat/backend/pkg/logger"
)

func main() {
	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认根据格式自动生成)")
	format := flag.String("format", "", "音频格式 (ASR: 输入格式; TTS: 输出格式)")
	language := flag.String("lang", "", "语言代码，默认使用 STT_LANGUAGE")
	voice := flag.String("voice", "", "TTS 声音，默认使用配置中的声音")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	log, err := logger.New("debug", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := godotenv.Load(); err != nil {
		log.Warn("无法加载 .env，改用系统环境变量", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("配置加载失败", zap.Error(err))
	}

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		stt, err := speech.NewTranscriberFromConfig(cfg.Speech, cfg.OpenAI)
		if err != nil {
			log.Fatal("语音识别未配置", zap.Error(err))
		}
		runASR(ctx, log, speech.NewService(stt, nil, log), *audioPath, *format, *language)
	case "tts":
		tts, err := speech.NewSynthesizerFromConfig(cfg.Speech, cfg.OpenAI)
		if err != nil {
			log.Fatal("语音合成未配置", zap.Error(err))
		}
		runTTS(ctx, log, speech.NewService(nil, tts, log), *text, *voice, *format, *outputPath)
	}
}

func runASR(ctx context.Context, log *zap.Logger, svc *speech.Service, audioPath, format, language string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatal("打开音频文件失败", zap.Error(err))
	}
	defer file.Close()

	if format == "" {
		format = speech.InferAudioFormat(audioPath)
	}

	req := &speechmodel.TranscribeRequest{
		AudioData: file,
		FileName:  filepath.Base(audioPath),
		Format:    format,
		Language:  language,
	}

	log.Info("开始进行 ASR 测试", zap.String("file", audioPath), zap.String("format", format))

	start := time.Now()
	resp, err := svc.TranscribeAudio(ctx, req)
	if err != nil {
		log.Fatal("ASR 调用失败", zap.Error(err))
	}

	log.Info("ASR 识别成功",
		zap.String("text", resp.Text),
		zap.String("language", resp.Language),
		zap.Duration("took", time.Since(start)),
	)
}

func runTTS(ctx context.Context, log *zap.Logger, svc *speech.Service, text, voice, format, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}

	if format == "" {
		format = "mp3"
	}

	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.%s", time.Now().Unix(), format)
	}

	req := &speechmodel.SynthesizeRequest{
		Text:   text,
		Voice:  voice,
		Format: format,
	}

	log.Info("开始进行 TTS 测试", zap.String("voice", voice), zap.String("format", format))

	resp, err := svc.SynthesizeSpeech(ctx, req)
	if err != nil {
		log.Fatal("TTS 调用失败", zap.Error(err))
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatal("写入音频文件失败", zap.Error(err))
	}

	log.Info("TTS 合成成功",
		zap.String("out", outputPath),
		zap.Int("bytes", len(resp.AudioData)),
		zap.String("content_type", speech.ContentType(resp.Format)),
	)
}
