package config

const (
	defaultConfigPath            = "~/.config/flowtrack/config.toml"
	defaultDataDir               = "~/.local/share/flowtrack"
	defaultWorkDir               = "~/.local/share/flowtrack/work"
	defaultLogDir                = "~/.local/share/flowtrack/logs"
	defaultSQLiteFile            = "objects.db"
	defaultAudioFolder           = "audio"
	defaultTranscriptFolder      = "transcripts"
	defaultS3Region              = "us-east-1"
	defaultYTDLPBinary           = "yt-dlp"
	defaultAudioFormat           = "mp3"
	defaultDownloadTimeout       = 1800
	defaultTranscribeCommand     = "uvx"
	defaultQualityProfile        = "default"
	defaultComputeType           = "float32"
	defaultMinTranscriptChars    = 50
	defaultTranscribeTimeout     = 7200
	defaultMaxConcurrentJobs     = 2
	defaultRetentionSeconds      = 3600
	defaultPersistTimeoutSeconds = 10
	defaultReconcileInterval     = 300
	defaultNotifyRequestTimeout  = 10
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultAPIBind               = "127.0.0.1:7490"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Store: Store{
			Backend:          BackendSQLite,
			AudioFolder:      defaultAudioFolder,
			TranscriptFolder: defaultTranscriptFolder,
			S3: S3{
				Region: defaultS3Region,
			},
		},
		Media: Media{
			YTDLPBinary:    defaultYTDLPBinary,
			AudioFormat:    defaultAudioFormat,
			TimeoutSeconds: defaultDownloadTimeout,
		},
		Transcription: Transcription{
			Command:            defaultTranscribeCommand,
			DefaultProfile:     defaultQualityProfile,
			ComputeType:        defaultComputeType,
			MinTranscriptChars: defaultMinTranscriptChars,
			TimeoutSeconds:     defaultTranscribeTimeout,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:     defaultMaxConcurrentJobs,
			RetentionSeconds:      defaultRetentionSeconds,
			PersistTimeoutSeconds: defaultPersistTimeoutSeconds,
		},
		Reconcile: Reconcile{
			Enabled:         true,
			IntervalSeconds: defaultReconcileInterval,
			AutoTranscribe:  false,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completions:    true,
			Failures:       true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		API: API{
			Bind: defaultAPIBind,
		},
	}
}
