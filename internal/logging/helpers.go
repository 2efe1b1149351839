package logging

// Category convenience helpers, one pair per subsystem.

func Store(format string, args ...any)       { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...any)  { Get(CategoryStore).Debug(format, args...) }
func Ingest(format string, args ...any)      { Get(CategoryIngest).Info(format, args...) }
func IngestDebug(format string, args ...any) { Get(CategoryIngest).Debug(format, args...) }
func Status(format string, args ...any)      { Get(CategoryStatus).Info(format, args...) }
func StatusDebug(format string, args ...any) { Get(CategoryStatus).Debug(format, args...) }
func GoalSync(format string, args ...any)    { Get(CategoryGoalSync).Info(format, args...) }
func Verify(format string, args ...any)      { Get(CategoryVerify).Info(format, args...) }
func VerifyDebug(format string, args ...any) { Get(CategoryVerify).Debug(format, args...) }
func Replan(format string, args ...any)      { Get(CategoryReplan).Info(format, args...) }
func Dedupe(format string, args ...any)      { Get(CategoryDedupe).Info(format, args...) }
func Bot(format string, args ...any)         { Get(CategoryBot).Info(format, args...) }
func Thought(format string, args ...any)     { Get(CategoryThought).Info(format, args...) }
func HTTP(format string, args ...any)        { Get(CategoryHTTP).Info(format, args...) }
