package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// PackageFields 提供包标识与对象键字段，供更新/拉取/上传日志复用。
func PackageFields(action, identity, key string) logrus.Fields {
	fields := logrus.Fields{
		"action":   action,
		"identity": identity,
	}
	if key != "" {
		fields["key"] = key
	}
	return fields
}

// RequestFields 描述 REST 桶服务的一次请求。
func RequestFields(bucket, key, method string, status int) logrus.Fields {
	return logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"method": method,
		"status": status,
	}
}
