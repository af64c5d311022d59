package metadata

/** @brief Entry point of a job. Results are sent on the provided channel. */
type JobStart func(params interface{}, results chan<- interface{}) error

/** @brief Invoked with the results a job produced. */
type JobOnComplete func(results <-chan interface{})

/**
 * @brief Describes a job to be run by the job system.
 */
type JobTask struct {
	Name string
	/** @brief Invoked when the job starts. Required. */
	OnStart JobStart
	/** @brief Invoked when the job successfully completes. Optional. */
	OnComplete JobOnComplete
	/** @brief Invoked when the job fails. Optional. */
	OnFailure func(err error)
	/** @brief Invoked after OnComplete or OnFailure. Optional. */
	OnCompletionCallback func()
	/** @brief Data passed to the entry point. */
	InputParams interface{}
}
