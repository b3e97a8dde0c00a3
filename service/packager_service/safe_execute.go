package packager_service

import (
	"context"
	"fmt"
	"strings"

	"bundle-packager/logger"
	"bundle-packager/model"
	"bundle-packager/service/classifier_service"
)

// SafeExecute validates and runs p. Every failure, panics included, comes back
// as a classified ErrorRecord and never as a raw error.
func SafeExecute(ctx context.Context, p Packager, req *Request, report ProgressFunc, classifier *classifier_service.Classifier) (res *Result, rec *model.ErrorRecord) {
	errCtx := model.ErrorContext{JobId: req.JobId, Platform: p.Platform(), Operation: "validate"}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorKV(ctx, "Packager panic", "platform", p.Platform(), "panic", r)
			res = nil
			rec = classifier.NewRecord(model.ErrorTypeUnknownError, fmt.Sprintf("packager panic: %v", r), errCtx, "")
		}
	}()

	v := p.Validate(req)
	if !v.Valid {
		msg := "validation failed: " + strings.Join(v.Errors, "; ")
		return nil, classifier.NewRecord(model.ErrorTypeConfigurationError, msg, errCtx, "")
	}
	for _, w := range v.Warnings {
		logger.WarnKV(ctx, "Packager validation warning", "platform", p.Platform(), "warning", w)
	}

	errCtx.Operation = "package"
	result, err := p.Package(ctx, req, monotonic(report))
	if err != nil {
		return nil, classifier.Classify(err, errCtx)
	}
	return result, nil
}
